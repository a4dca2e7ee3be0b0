// Package export renders portfolio reports for lenders and auditors.
package export

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// WritePortfolioXLSX writes a two-sheet workbook: portfolio totals and the
// underlying credit records.
func WritePortfolioXLSX(path string, pf *model.Portfolio, records []model.CarbonCreditRecord) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Portfolio")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	writeSummary(summary, pf)

	detail, err := f.AddSheet("Credits")
	if err != nil {
		return eris.Wrap(err, "export: add credits sheet")
	}
	writeRecords(detail, records)

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func writeSummary(sheet *xlsx.Sheet, pf *model.Portfolio) {
	addRow(sheet, "User", pf.UserID)
	addRow(sheet, "Records", pf.Records)
	addRow(sheet, "Issued tonnes", pf.IssuedTonnes)
	addRow(sheet, "Pending tonnes", pf.PendingTonnes)
	addRow(sheet, "Projected tonnes", pf.ProjectedTonnes)
	addRow(sheet, "Issued value USD", pf.IssuedValueUSD)
	addRow(sheet, "Pending value USD", pf.PendingValueUSD)

	sheet.AddRow()
	addRow(sheet, "Standard", "Issued tonnes", "Pending tonnes", "Value USD")
	for _, st := range pf.ByStandard {
		addRow(sheet, st.Standard, st.IssuedTonnes, st.PendingTonnes, st.ValueUSD)
	}
}

func writeRecords(sheet *xlsx.Sheet, records []model.CarbonCreditRecord) {
	addRow(sheet, "ID", "Evidence", "Tonnes", "Standard", "Status", "Value USD", "Created", "Issued")
	for _, rec := range records {
		issued := ""
		if rec.IssuedAt != nil {
			issued = rec.IssuedAt.Format(time.RFC3339)
		}
		addRow(sheet, rec.ID, rec.EvidenceID, rec.Tonnes, rec.Standard,
			string(rec.Status), rec.ValueUSD, rec.CreatedAt.Format(time.RFC3339), issued)
	}
}

func addRow(sheet *xlsx.Sheet, cells ...any) {
	row := sheet.AddRow()
	for _, v := range cells {
		cell := row.AddCell()
		switch val := v.(type) {
		case string:
			cell.SetString(val)
		case int:
			cell.SetInt(val)
		case float64:
			cell.SetFloat(val)
		default:
			cell.SetValue(val)
		}
	}
}
