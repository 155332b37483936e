package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"validate", "runs", "serve", "version"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "record-gate", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestValidateCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "spec", "evidence", "out-dir", "formats", "fetch-pages", "no-store", "sheet", "delimiter"} {
		assert.NotNil(t, validateCmd.Flags().Lookup(name), "validate should have --%s", name)
	}
	assert.Equal(t, "json,csv", validateCmd.Flags().Lookup("formats").DefValue)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "root should have --%s", name)
	}
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "record-gate dev\n", out.String())
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{in: "", want: 0},
		{in: ";", want: ';'},
		{in: "tab", want: '\t'},
		{in: `\t`, want: '\t'},
		{in: "|", want: '|'},
		{in: ",,", wantErr: true},
		{in: `"`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseDelimiter(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestValidateCommand_Execute(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("RECORDGATE_STORE_DRIVER", "none")
	t.Setenv("RECORDGATE_LOG_LEVEL", "error")

	records := []map[string]any{
		{"record_id": "r1", "name": "Priya Raman", "email": "priya@acme.io", "title": "VP Engineering",
			"company": "Acme Robotics", "location": "Austin, TX"},
		{"record_id": "r2", "name": "Marcus Chen", "title": "Director of Sales", "location": "Denver, CO"},
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "records.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spec.yaml"), []byte(testSpecYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "evidence.json"), []byte(`{
		"r1": {"page": {"status": "fetched", "text": "Priya Raman is VP Engineering at Acme Robotics in Austin, TX. Contact: priya@acme.io"}}
	}`), 0o644))

	outDir := filepath.Join(dir, "out")
	rootCmd.SetArgs([]string{
		"validate",
		"--input", filepath.Join(dir, "records.json"),
		"--spec", filepath.Join(dir, "spec.yaml"),
		"--evidence", filepath.Join(dir, "evidence.json"),
		"--out-dir", outDir,
		"--formats", "json,csv",
		"--no-store",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())

	for _, name := range []string{"clean.json", "rejected.json", "report.json", "clean.csv", "rejected.csv", "report.md"} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	raw, err := os.ReadFile(filepath.Join(outDir, "clean.json"))
	require.NoError(t, err)
	var clean []map[string]any
	require.NoError(t, json.Unmarshal(raw, &clean))
	require.Len(t, clean, 1)
	assert.Equal(t, "r1", clean[0]["record_id"])
}
