package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tradoai/agentguard/internal/session"
)

// ExcelReporter exports a session ledger as an Excel workbook.
type ExcelReporter struct{}

// NewExcelReporter creates a new Excel reporter.
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

type excelStyles struct {
	header int
	price  int
	date   int
}

// WriteSessionXLSX writes the session's trades, stage history, and
// approval requests to path, creating parent directories as needed.
func (r *ExcelReporter) WriteSessionXLSX(st session.State, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const stagesSheet = "Stage History"
	const approvalsSheet = "Approvals"

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	fx.NewSheet(stagesSheet)
	fx.NewSheet(approvalsSheet)

	styles, err := r.createStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeTradesSheet(fx, tradesSheet, st, styles); err != nil {
		return err
	}
	if err := r.writeStagesSheet(fx, stagesSheet, st, styles); err != nil {
		return err
	}
	if err := r.writeApprovalsSheet(fx, approvalsSheet, st, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.price, err = fx.NewStyle(&excelize.Style{
		NumFmt: 2, // two decimal places
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.date, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: strPtr("yyyy-mm-dd hh:mm:ss"),
		Alignment: &excelize.Alignment{
			Horizontal: "left",
		},
	})
	return styles, err
}

func (r *ExcelReporter) writeTradesSheet(fx *excelize.File, sheet string, st session.State, styles excelStyles) error {
	headers := []string{"Status", "Symbol", "Side", "Quantity", "Price", "Requested At", "Executed At", "Result"}
	if err := r.writeHeader(fx, sheet, headers, styles); err != nil {
		return err
	}

	row := 2
	writeTrade := func(status string, tr session.TradeRecord) error {
		cells := []interface{}{status, tr.Symbol, tr.Side, tr.Quantity, tr.Price,
			tr.RequestedAt, timeOrNil(tr.ExecutedAt), resultCell(tr.Result)}
		if err := fx.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &cells); err != nil {
			return err
		}
		fx.SetCellStyle(sheet, fmt.Sprintf("D%d", row), fmt.Sprintf("E%d", row), styles.price)
		fx.SetCellStyle(sheet, fmt.Sprintf("F%d", row), fmt.Sprintf("G%d", row), styles.date)
		row++
		return nil
	}

	for _, tr := range st.ExecutedTrades {
		if err := writeTrade("executed", tr); err != nil {
			return err
		}
	}
	for _, tr := range st.PendingTrades {
		if err := writeTrade("pending", tr); err != nil {
			return err
		}
	}
	return fx.SetColWidth(sheet, "A", "H", 18)
}

func (r *ExcelReporter) writeStagesSheet(fx *excelize.File, sheet string, st session.State, styles excelStyles) error {
	headers := []string{"From", "To", "Trigger", "Timestamp", "Reason"}
	if err := r.writeHeader(fx, sheet, headers, styles); err != nil {
		return err
	}

	for i, tr := range st.StageHistory {
		row := i + 2
		cells := []interface{}{string(tr.FromStage), string(tr.ToStage), string(tr.TriggeredBy), tr.Timestamp, tr.Reason}
		if err := fx.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &cells); err != nil {
			return err
		}
		fx.SetCellStyle(sheet, fmt.Sprintf("D%d", row), fmt.Sprintf("D%d", row), styles.date)
	}
	fx.SetColWidth(sheet, "A", "D", 16)
	return fx.SetColWidth(sheet, "E", "E", 40)
}

func (r *ExcelReporter) writeApprovalsSheet(fx *excelize.File, sheet string, st session.State, styles excelStyles) error {
	headers := []string{"Request ID", "Type", "Status", "Requested At", "Responded At", "Reason"}
	if err := r.writeHeader(fx, sheet, headers, styles); err != nil {
		return err
	}

	for i, req := range st.PendingApprovals {
		row := i + 2
		cells := []interface{}{req.RequestID, req.Type, string(req.Status),
			req.RequestedAt, timeOrNil(req.RespondedAt), req.Reason}
		if err := fx.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &cells); err != nil {
			return err
		}
		fx.SetCellStyle(sheet, fmt.Sprintf("D%d", row), fmt.Sprintf("E%d", row), styles.date)
	}
	fx.SetColWidth(sheet, "A", "A", 38)
	return fx.SetColWidth(sheet, "B", "F", 18)
}

func (r *ExcelReporter) writeHeader(fx *excelize.File, sheet string, headers []string, styles excelStyles) error {
	cells := make([]interface{}, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	if err := fx.SetSheetRow(sheet, "A1", &cells); err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	return fx.SetCellStyle(sheet, "A1", last+"1", styles.header)
}

func resultCell(result map[string]interface{}) interface{} {
	if len(result) == 0 {
		return nil
	}
	if id, ok := result["order_id"].(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("%v", result)
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func strPtr(s string) *string { return &s }
