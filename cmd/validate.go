package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/record-gate/internal/evidence"
	"github.com/sells-group/record-gate/internal/export"
	"github.com/sells-group/record-gate/internal/fetcher"
	"github.com/sells-group/record-gate/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a batch of scraped records against a run spec",
	Long:  "Loads records (JSON, JSON Lines, CSV, XLSX or a ZIP holding one of those), runs them through the pipeline and writes clean records, rejected records and a report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("validate"); err != nil {
			return err
		}

		input, _ := cmd.Flags().GetString("input")
		specPath, _ := cmd.Flags().GetString("spec")
		evidencePath, _ := cmd.Flags().GetString("evidence")
		outDir, _ := cmd.Flags().GetString("out-dir")
		formatList, _ := cmd.Flags().GetString("formats")
		fetchPages, _ := cmd.Flags().GetBool("fetch-pages")
		noStore, _ := cmd.Flags().GetBool("no-store")
		sheet, _ := cmd.Flags().GetString("sheet")
		delimFlag, _ := cmd.Flags().GetString("delimiter")

		delim, err := parseDelimiter(delimFlag)
		if err != nil {
			return err
		}

		formats, err := export.ParseFormats(formatList)
		if err != nil {
			return err
		}

		spec, err := rules.LoadRunSpecWith(specPath, dedupeDefaults(cfg.Dedupe))
		if err != nil {
			return err
		}

		records, err := fetcher.LoadRecordsWith(ctx, input, fetcher.Options{Sheet: sheet, Delimiter: delim})
		if err != nil {
			return err
		}

		set := evidence.Set{}
		if evidencePath != "" {
			set, err = evidence.Load(evidencePath)
			if err != nil {
				return err
			}
		}

		env, err := initEnv(ctx, cfg, !noStore)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.validate(ctx, spec, records, set, fetchPages)
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		written, err := export.WriteAll(outDir, formats, res)
		if err != nil {
			return err
		}

		zap.L().Info("validate: run complete",
			zap.String("run_id", res.RunID),
			zap.Int("passed", res.Report.Passed),
			zap.Int("rejected", res.Report.Rejected),
			zap.Float64("pass_rate", res.Report.PassRate),
		)
		_, _ = fmt.Fprintf(os.Stdout, "run %s: %d passed, %d rejected (%.1f%%), %d files in %s\n",
			res.RunID, res.Report.Passed, res.Report.Rejected, res.Report.PassRate, len(written), outDir)
		return nil
	},
}

// parseDelimiter reads the --delimiter flag. Empty means sniff.
func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 || r[0] == '"' || r[0] == '\n' || r[0] == '\r' {
		return 0, eris.Errorf("validate: invalid delimiter %q", s)
	}
	return r[0], nil
}

func init() {
	validateCmd.Flags().String("input", "", "records file (.json, .jsonl, .csv, .xlsx or .zip)")
	validateCmd.Flags().String("spec", "", "run spec YAML file")
	validateCmd.Flags().String("evidence", "", "pre-fetched evidence JSON keyed by record_id")
	validateCmd.Flags().String("out-dir", "out", "directory for outputs")
	validateCmd.Flags().String("formats", "json,csv", "comma-separated output formats (json, csv, xlsx)")
	validateCmd.Flags().Bool("fetch-pages", false, "fetch source pages missing from the evidence file")
	validateCmd.Flags().Bool("no-store", false, "skip recording the run in the store")
	validateCmd.Flags().String("sheet", "", "XLSX sheet to read (default: first sheet)")
	validateCmd.Flags().String("delimiter", "", "CSV delimiter: a single character or \"tab\" (default: sniffed)")
	_ = validateCmd.MarkFlagRequired("input")
	_ = validateCmd.MarkFlagRequired("spec")
	rootCmd.AddCommand(validateCmd)
}
