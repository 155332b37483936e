package export

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/record-gate/internal/model"
	"github.com/sells-group/record-gate/internal/pipeline"
)

// WriteXLSX writes a workbook with sheets clean, rejected and report.
func WriteXLSX(path string, res *pipeline.Result) error {
	f := xlsx.NewFile()

	if err := addRowsSheet(f, "clean", CleanRows(res)); err != nil {
		return err
	}
	if err := addRowsSheet(f, "rejected", RejectedRows(res)); err != nil {
		return err
	}
	if err := addReportSheet(f, res.Report); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addRowsSheet(f *xlsx.File, name string, rows []Row) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", name)
	}
	cols := Columns(rows)
	addStrings(sheet, cols)
	for _, r := range rows {
		addStrings(sheet, cells(r, cols))
	}
	return nil
}

func addReportSheet(f *xlsx.File, rep model.ValidationReport) error {
	sheet, err := f.AddSheet("report")
	if err != nil {
		return eris.Wrap(err, "export: add sheet report")
	}

	addStrings(sheet, []string{"metric", "value"})
	addMetric(sheet, "run_id", rep.RunID)
	addMetric(sheet, "name", rep.Name)
	addMetric(sheet, "generated_at", rep.GeneratedAt.UTC().Format(time.RFC3339))
	addMetric(sheet, "input_records", rep.InputRecords)
	addMetric(sheet, "duplicates_merged", rep.DuplicatesMerged)
	addMetric(sheet, "candidates", rep.Candidates)
	addMetric(sheet, "passed", rep.Passed)
	addMetric(sheet, "rejected", rep.Rejected)
	addMetric(sheet, "pass_rate", rep.PassRate)
	addMetric(sheet, "avg_completeness", rep.AvgCompleteness)
	addMetric(sheet, "avg_confidence", rep.AvgConfidence)

	for _, name := range sortedKeys(rep.Constraints) {
		addMetric(sheet, "constraint."+name+".pass_rate", rep.Constraints[name].PassRate)
	}
	for _, cat := range sortedKeys(rep.RejectionsByReason) {
		addMetric(sheet, "rejections."+string(cat), rep.RejectionsByReason[cat])
	}
	for _, kind := range sortedKeys(rep.Authenticity.Failed) {
		addMetric(sheet, "authenticity_failed."+string(kind), rep.Authenticity.Failed[kind])
	}
	return nil
}

func addStrings(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addMetric(sheet *xlsx.Sheet, name string, value any) {
	row := sheet.AddRow()
	row.AddCell().SetString(name)
	cell := row.AddCell()
	switch v := value.(type) {
	case int:
		cell.SetInt(v)
	case float64:
		cell.SetFloat(v)
	case string:
		cell.SetString(v)
	default:
		cell.SetString(fmt.Sprint(v))
	}
}
