package usecase

import (
	"context"
	"fmt"

	"github.com/Nzyazin/cashbook/internal/core/logger"
	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/xuri/excelize/v2"
)

const (
	sheetByWallet = "By wallet"
	sheetDaily    = "Daily"
)

// ExportXLSX renders the summary of q as a workbook with one sheet per view.
func (r *CashflowReporter) ExportXLSX(ctx context.Context, q models.CashflowQuery) ([]byte, error) {
	summary, err := r.Summarize(ctx, q)
	if err != nil {
		return nil, err
	}
	return r.RenderXLSX(summary)
}

func (r *CashflowReporter) RenderXLSX(summary *models.CashflowSummary) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), sheetByWallet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := xl.NewSheet(sheetDaily); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	header := []interface{}{"Code", "Name", "Income", "Expense", "Transfer in", "Transfer out", "Transfer fee", "Adjustment", "Net change"}
	if err := xl.SetSheetRow(sheetByWallet, "A1", &header); err != nil {
		return nil, err
	}
	for i, w := range summary.ByWallet {
		row := []interface{}{
			w.WalletCode,
			w.WalletName,
			r.amount(w.IncomeTotal),
			r.amount(w.ExpenseTotal),
			r.amount(w.TransferInTotal),
			r.amount(w.TransferOutTotal),
			r.amount(w.TransferFeeTotal),
			r.amount(w.AdjustmentTotal),
			r.amount(w.NetChange),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := xl.SetSheetRow(sheetByWallet, cell, &row); err != nil {
			return nil, err
		}
	}

	t := summary.Totals
	totals := []interface{}{
		"TOTAL", "",
		r.amount(t.IncomeTotal),
		r.amount(t.ExpenseTotal),
		r.amount(t.TransferInTotal),
		r.amount(t.TransferOutTotal),
		r.amount(t.TransferFeeTotal),
		r.amount(t.AdjustmentTotal),
		r.amount(t.NetChange),
	}
	cell, err := excelize.CoordinatesToCellName(1, len(summary.ByWallet)+2)
	if err != nil {
		return nil, err
	}
	if err := xl.SetSheetRow(sheetByWallet, cell, &totals); err != nil {
		return nil, err
	}
	_ = xl.SetColWidth(sheetByWallet, "A", "A", 14)
	_ = xl.SetColWidth(sheetByWallet, "B", "B", 28)
	_ = xl.SetColWidth(sheetByWallet, "C", "I", 16)

	dailyHeader := []interface{}{"Date", "In", "Out", "Net"}
	if err := xl.SetSheetRow(sheetDaily, "A1", &dailyHeader); err != nil {
		return nil, err
	}
	for i, d := range summary.Series {
		row := []interface{}{d.Date, r.amount(d.InTotal), r.amount(d.OutTotal), r.amount(d.Net)}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := xl.SetSheetRow(sheetDaily, cell, &row); err != nil {
			return nil, err
		}
	}
	_ = xl.SetColWidth(sheetDaily, "A", "D", 16)

	buf, err := xl.WriteToBuffer()
	if err != nil {
		r.log.Error("Cashflow export failed", logger.ErrorField("error", err))
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// amount converts to a float only for display; totals are computed in minor units.
func (r *CashflowReporter) amount(m models.Money) float64 {
	f, _ := m.Decimal(r.minorUnits).Float64()
	return f
}
