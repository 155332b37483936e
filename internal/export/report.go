package export

import (
	"io"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/record-gate/internal/gate"
	"github.com/sells-group/record-gate/internal/model"
)

// WriteReport writes the markdown summary of a run.
func WriteReport(w io.Writer, rep model.ValidationReport) error {
	if _, err := io.WriteString(w, gate.FormatReport(rep)); err != nil {
		return eris.Wrap(err, "export: write report")
	}
	return nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
