package settle

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/courtedge/core"
	"github.com/phenomenon0/courtedge/pkg/ledger"
)

// SummaryRow is one strategy's performance on one settlement date.
type SummaryRow struct {
	Date     string // settlement date, YYYY-MM-DD
	Strategy string
	Settled  int
	DailyPnL decimal.Decimal
	CumPnL   decimal.Decimal
}

// Summarize folds over the full ledger history and rebuilds the complete
// per-strategy daily summary. Cumulative P&L is always recomputed from
// scratch rather than accumulated incrementally, so it stays correct when
// results arrive out of chronological order. Rows sort by (date, strategy).
func Summarize(led *ledger.Ledger) []SummaryRow {
	type key struct{ date, strategy string }
	daily := make(map[key]*SummaryRow)

	for _, bet := range led.All() {
		if !bet.Status.Terminal() || bet.SettledAt == nil || !bet.PnL.Valid {
			continue
		}
		k := key{date: bet.SettledAt.UTC().Format(core.DateFormat), strategy: bet.Strategy}
		row, ok := daily[k]
		if !ok {
			row = &SummaryRow{Date: k.date, Strategy: k.strategy, DailyPnL: decimal.Zero}
			daily[k] = row
		}
		row.Settled++
		row.DailyPnL = row.DailyPnL.Add(bet.PnL.Decimal)
	}

	rows := make([]SummaryRow, 0, len(daily))
	for _, row := range daily {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].Strategy < rows[j].Strategy
	})

	cum := make(map[string]decimal.Decimal)
	for i := range rows {
		total := cum[rows[i].Strategy].Add(rows[i].DailyPnL)
		cum[rows[i].Strategy] = total
		rows[i].CumPnL = total
	}
	return rows
}
