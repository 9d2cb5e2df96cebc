// Package reporting renders trading sessions for humans: console
// tables for the CLI and Excel workbooks for offline review.
package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tradoai/agentguard/internal/session"
)

// ConsoleReporter writes session tables to a writer.
type ConsoleReporter struct {
	out io.Writer
}

// NewConsoleReporter creates a console reporter targeting out.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

// PrintSessionList renders one row per session id with its stage and
// activity counts.
func (r *ConsoleReporter) PrintSessionList(states []session.State) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("SESSIONS")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Session", "Stage", "Transitions", "Trades", "Approvals", "Updated"})
	for _, st := range states {
		t.AppendRow(table.Row{
			st.SessionID,
			string(st.CurrentStage),
			len(st.StageHistory),
			len(st.ExecutedTrades),
			fmt.Sprintf("%d pending", countPending(st)),
			st.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMax: 40, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.Render()
}

// PrintSessionSummary renders one session in full: overview, stage
// history, trades, and approvals.
func (r *ConsoleReporter) PrintSessionSummary(st session.State) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("SESSION " + st.SessionID)
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"📊 Stage", string(st.CurrentStage)},
		{"🕐 Created", st.CreatedAt.Format("2006-01-02 15:04:05")},
		{"🕐 Updated", st.UpdatedAt.Format("2006-01-02 15:04:05")},
		{"💡 Insights", len(st.DiscoveryInsights)},
		{"📈 Strategy", strategyLabel(st.ActiveStrategy)},
		{"🧪 Backtest", valueOrDash(st.ActiveBacktestRunID)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"🔄 Pending Trades", len(st.PendingTrades)},
		{"✅ Executed Trades", len(st.ExecutedTrades)},
		{"🔔 Pending Approvals", countPending(st)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 45, Align: text.AlignLeft},
	})
	t.Render()

	if len(st.StageHistory) > 0 {
		r.printStageHistory(st)
	}
	if len(st.ExecutedTrades) > 0 || len(st.PendingTrades) > 0 {
		r.printTrades(st)
	}
}

func (r *ConsoleReporter) printStageHistory(st session.State) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("STAGE HISTORY")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "From", "To", "Trigger", "When", "Reason"})
	for i, tr := range st.StageHistory {
		t.AppendRow(table.Row{
			i + 1,
			string(tr.FromStage),
			string(tr.ToStage),
			string(tr.TriggeredBy),
			tr.Timestamp.Format("2006-01-02 15:04"),
			truncate(tr.Reason, 40),
		})
	}
	t.Render()
}

func (r *ConsoleReporter) printTrades(st session.State) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("TRADES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Status", "Symbol", "Side", "Quantity", "Price", "Result"})
	for _, tr := range st.ExecutedTrades {
		t.AppendRow(table.Row{"executed", tr.Symbol, tr.Side,
			fmt.Sprintf("%.4f", tr.Quantity), fmt.Sprintf("%.2f", tr.Price), truncate(resultLabel(tr.Result), 30)})
	}
	for _, tr := range st.PendingTrades {
		t.AppendRow(table.Row{"pending", tr.Symbol, tr.Side,
			fmt.Sprintf("%.4f", tr.Quantity), fmt.Sprintf("%.2f", tr.Price), "-"})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
}

func strategyLabel(strategy map[string]interface{}) string {
	if len(strategy) == 0 {
		return "-"
	}
	if name, ok := strategy["name"].(string); ok && name != "" {
		return name
	}
	return "set"
}

func resultLabel(result map[string]interface{}) string {
	if len(result) == 0 {
		return "-"
	}
	if id, ok := result["order_id"].(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("%v", result)
}

func countPending(st session.State) int {
	n := 0
	for _, req := range st.PendingApprovals {
		if req.Status == session.ApprovalPending {
			n++
		}
	}
	return n
}

func valueOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
