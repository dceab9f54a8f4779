package export

import (
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"github.com/reversegremlin/harvest-market/internal/currency"
	"github.com/reversegremlin/harvest-market/internal/ledger"
)

const (
	balanceSheet = "BALANCE"
	historySheet = "HISTORY"
	summarySheet = "LEDGER"
)

// WriteStatementXLSX renders a statement as a workbook with BALANCE and HISTORY sheets.
func WriteStatementXLSX(w io.Writer, st Statement) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", balanceSheet); err != nil {
		return fmt.Errorf("renaming default sheet: %w", err)
	}
	if _, err := f.NewSheet(historySheet); err != nil {
		return fmt.Errorf("creating %s sheet: %w", historySheet, err)
	}

	if err := writeRows(f, balanceSheet, balanceValues(st)); err != nil {
		return err
	}
	if err := writeRows(f, historySheet, historyValues(st.Records)); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// WriteSummaryXLSX renders a summary report as a single LEDGER sheet.
func WriteSummaryXLSX(w io.Writer, report SummaryReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("renaming default sheet: %w", err)
	}
	if err := writeRows(f, summarySheet, summaryValues(report)); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("addressing %s row %d: %w", sheet, i+1, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// balanceValues lays out the BALANCE sheet.
// Columns: Denomination | Count
func balanceValues(st Statement) [][]any {
	data := [][]any{
		{"Account", st.AccountID},
		{"Generated", st.GeneratedAt.Format(time.RFC3339)},
		{},
		{"Denomination", "Count"},
	}
	for _, d := range currency.Denominations {
		data = append(data, []any{d.Plural(), st.Balance.Get(d)})
	}
	return append(data, []any{"value in dabbers", st.ValueInDabbers})
}

// historyValues lays out the HISTORY sheet, newest first.
// Columns: Timestamp | Kind | Direction | Amount | Credited | Description
func historyValues(records []ledger.Record) [][]any {
	header := []any{"Timestamp", "Kind", "Direction", "Amount", "Credited", "Description"}
	rows := lo.Map(records, func(r ledger.Record, _ int) []any {
		return []any{r.Timestamp.Format(time.RFC3339), string(r.Kind), r.Direction, r.Amount, r.Credited, r.Description}
	})
	return append([][]any{header}, rows...)
}
