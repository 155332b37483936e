package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/store"
)

// historyLimit bounds how many runs stats and show read at once.
const historyLimit = 10000

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect validation run history",
	Long:  "Lists recorded runs, prints one run with its persisted records, or summarizes pass rates and rejection causes across runs.",
}

// withStore opens and migrates the configured store for the duration of fn.
func withStore(ctx context.Context, fn func(store.Store) error) error {
	if cfg.Store.Driver == "" || cfg.Store.Driver == "none" {
		return eris.New("run history is disabled (store.driver is none)")
	}
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	return fn(st)
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List validation runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		name, _ := cmd.Flags().GetString("name")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withStore(cmd.Context(), func(st store.Store) error {
			runs, err := st.ListRuns(cmd.Context(), store.RunFilter{
				Status: model.RunStatus(status),
				Name:   name,
				Limit:  limit,
			})
			if err != nil {
				return eris.Wrap(err, "runs list")
			}
			if asJSON {
				if runs == nil {
					runs = []model.Run{}
				}
				return writeIndented(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no runs recorded")
				return nil
			}
			formatRunsList(cmd.OutOrStdout(), runs)
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a run and its report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		which, _ := cmd.Flags().GetString("records")

		return withStore(cmd.Context(), func(st store.Store) error {
			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "runs show")
			}

			detail := runDetail{Run: run}
			switch which {
			case "", "none":
			case "all", string(model.StatusPass), string(model.StatusFail):
				filter := store.RecordFilter{Limit: historyLimit}
				if which != "all" {
					filter.Status = model.Status(which)
				}
				if detail.Records, err = st.ListRecords(cmd.Context(), run.ID, filter); err != nil {
					return eris.Wrap(err, "runs show")
				}
			default:
				return eris.Errorf("runs show: --records must be all, PASS or FAIL, got %q", which)
			}
			return writeIndented(cmd.OutOrStdout(), detail)
		})
	},
}

// runDetail is a run with, optionally, its persisted records.
type runDetail struct {
	*model.Run
	Records []store.RunRecord `json:"records,omitempty"`
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize pass rates and rejection causes across runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.RunFilter{Name: name, Limit: historyLimit}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}
		return withStore(cmd.Context(), func(st store.Store) error {
			runs, err := st.ListRuns(cmd.Context(), filter)
			if err != nil {
				return eris.Wrap(err, "runs stats")
			}
			formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
			return nil
		})
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "only runs in this state (running, complete, failed)")
	runsListCmd.Flags().String("name", "", "only runs of this spec name")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Bool("json", false, "print runs as JSON")

	runsShowCmd.Flags().String("records", "", "include persisted records: all, PASS or FAIL")

	runsStatsCmd.Flags().String("name", "", "only runs of this spec name")
	runsStatsCmd.Flags().Duration("since", 0, "only runs created within this window (e.g. 168h)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// runStats aggregates run history. Record counts and reasons cover
// completed runs that carry a report.
type runStats struct {
	Total       int
	Complete    int
	Failed      int
	Running     int
	Candidates  int
	Passed      int
	AvgPassRate float64
	AvgDuration time.Duration
	Reasons     map[model.RejectionCategory]int
}

func computeRunStats(runs []model.Run) runStats {
	s := runStats{Total: len(runs), Reasons: make(map[model.RejectionCategory]int)}

	var elapsed time.Duration
	var reported int
	var rateSum float64
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusFailed:
			s.Failed++
			continue
		case model.RunStatusComplete:
			s.Complete++
			elapsed += r.UpdatedAt.Sub(r.CreatedAt)
		default:
			s.Running++
			continue
		}
		if r.Report == nil {
			continue
		}
		reported++
		rateSum += r.Report.PassRate
		s.Candidates += r.Report.Candidates
		s.Passed += r.Report.Passed
		for cat, n := range r.Report.RejectionsByReason {
			s.Reasons[cat] += n
		}
	}

	if s.Complete > 0 {
		s.AvgDuration = elapsed / time.Duration(s.Complete)
	}
	if reported > 0 {
		s.AvgPassRate = rateSum / float64(reported)
	}
	return s
}

// formatRunsList writes one line per run. Failed runs show their error in
// place of record counts.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPASSED\tREJECTED\tPASS_RATE\tCREATED\tDURATION")

	for _, r := range runs {
		cols := []string{
			truncateID(r.ID),
			ellipsize(r.Name, 30),
			string(r.Status),
			"-", "-", "-",
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String(),
		}
		switch {
		case r.Report != nil:
			cols[3] = fmt.Sprint(r.Report.Passed)
			cols[4] = fmt.Sprint(r.Report.Rejected)
			cols[5] = fmt.Sprintf("%.1f%%", r.Report.PassRate)
		case r.Error != "":
			cols[5] = ellipsize(r.Error, 40)
		}
		_, _ = fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
	_ = w.Flush()
}

// formatRunStats writes the summary with rejection causes, most common
// first.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (%d complete, %d failed, %d running)\n", s.Total, s.Complete, s.Failed, s.Running)
	_, _ = fmt.Fprintf(w, "Records passed:\t%d of %d\n", s.Passed, s.Candidates)
	if s.AvgPassRate > 0 {
		_, _ = fmt.Fprintf(w, "Avg pass rate:\t%.1f%%\n", s.AvgPassRate)
	}
	if s.AvgDuration > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%s\n", s.AvgDuration.Round(100*time.Millisecond))
	}

	cats := make([]model.RejectionCategory, 0, len(s.Reasons))
	for c := range s.Reasons {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if s.Reasons[cats[i]] != s.Reasons[cats[j]] {
			return s.Reasons[cats[i]] > s.Reasons[cats[j]]
		}
		return cats[i] < cats[j]
	})
	for _, c := range cats {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", c, s.Reasons[c])
	}
	_ = w.Flush()
}

// truncateID shortens a UUID to its first block.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ellipsize(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
