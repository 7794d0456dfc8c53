package edgar

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWindowDays is the trailing window the summary covers.
const DefaultWindowDays = 90

// Verdict summarizes the net direction of insider trading.
type Verdict string

const (
	Accumulating Verdict = "accumulating"
	Distributing Verdict = "distributing"
	Neutral      Verdict = "neutral"
)

// Summary is the per-ticker aggregate over the trailing window. It is
// recomputed from stored transactions, never updated incrementally.
type Summary struct {
	Ticker      string    `json:"ticker"`
	Buys        int       `json:"buys_90d"`
	Sells       int       `json:"sells_90d"`
	TotalBought float64   `json:"total_bought_value_90d"`
	TotalSold   float64   `json:"total_sold_value_90d"`
	NetActivity float64   `json:"net_activity_90d"`
	Verdict     Verdict   `json:"verdict"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WindowStart returns the first calendar day (UTC) inside a window of days
// ending at now. A transaction dated exactly days before today is inside.
func WindowStart(now time.Time, days int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
}

// Summarize aggregates rows for ticker over the window ending at now. Rows
// dated before the window start are ignored. Totals only include rows with
// a known total value.
func Summarize(ticker string, rows []InsiderTransaction, now time.Time, days int) Summary {
	start := WindowStart(now, days)
	var (
		buys, sells int
		bought      = decimal.Zero
		sold        = decimal.Zero
	)
	for _, r := range rows {
		if r.TransactionDate.Before(start) {
			continue
		}
		switch r.Type {
		case Buy:
			buys++
			if r.TotalValue != nil {
				bought = bought.Add(decimal.NewFromFloat(*r.TotalValue))
			}
		case Sell:
			sells++
			if r.TotalValue != nil {
				sold = sold.Add(decimal.NewFromFloat(*r.TotalValue))
			}
		}
	}
	net := bought.Sub(sold)
	return Summary{
		Ticker:      ticker,
		Buys:        buys,
		Sells:       sells,
		TotalBought: bought.InexactFloat64(),
		TotalSold:   sold.InexactFloat64(),
		NetActivity: net.InexactFloat64(),
		Verdict:     verdictFor(buys, sells, net),
		UpdatedAt:   now.UTC(),
	}
}

func verdictFor(buys, sells int, net decimal.Decimal) Verdict {
	if buys == 0 && sells == 0 {
		return Neutral
	}
	switch net.Sign() {
	case 1:
		return Accumulating
	case -1:
		return Distributing
	}
	return Neutral
}
