package edgar

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date layout used by EDGAR and the store.
const DateLayout = "2006-01-02"

// TransactionType is the canonical direction of an open-market trade.
type TransactionType string

const (
	Buy  TransactionType = "buy"
	Sell TransactionType = "sell"
)

// InsiderTransaction is the canonical, persisted form of one open-market trade.
type InsiderTransaction struct {
	Ticker          string          `json:"ticker"`
	InsiderName     *string         `json:"insider_name"`
	InsiderTitle    *string         `json:"insider_title"`
	TransactionDate time.Time       `json:"transaction_date"`
	Type            TransactionType `json:"transaction_type"`
	Shares          float64         `json:"shares"`
	PricePerShare   *float64        `json:"price_per_share"`
	TotalValue      *float64        `json:"total_value"`
	FilingDate      time.Time       `json:"filing_date"`
}

// TransactionKey is the natural key transactions are deduplicated on.
type TransactionKey struct {
	Ticker          string
	InsiderName     string
	TransactionDate string
	Type            TransactionType
	Shares          float64
}

// Key returns the natural dedup key. A missing insider name keys as "".
func (t InsiderTransaction) Key() TransactionKey {
	name := ""
	if t.InsiderName != nil {
		name = *t.InsiderName
	}
	return TransactionKey{
		Ticker:          t.Ticker,
		InsiderName:     name,
		TransactionDate: t.TransactionDate.Format(DateLayout),
		Type:            t.Type,
		Shares:          t.Shares,
	}
}

// SkipReason says why a raw transaction was not turned into a canonical one.
type SkipReason string

const (
	SkipMissingCode     SkipReason = "missing transaction code"
	SkipMissingShares   SkipReason = "missing share count"
	SkipUnsupportedCode SkipReason = "not an open-market purchase or sale"
	SkipInvalidShares   SkipReason = "invalid share count"
	SkipInvalidPrice    SkipReason = "invalid price per share"
	SkipInvalidDate     SkipReason = "invalid transaction date"
	SkipPanic           SkipReason = "unexpected failure"
)

// Skip records one transaction the normalizer left out.
type Skip struct {
	Index  int // position within the document's non-derivative table
	Code   string
	Reason SkipReason
	Err    error
}

// NormalizeTransactions turns the document's non-derivative transactions into
// canonical records for ticker. Only codes P (buy) and S (sell) are kept.
// A transaction without its own date takes filingDate.
func NormalizeTransactions(ticker string, doc *Form4, filingDate time.Time) ([]InsiderTransaction, []Skip) {
	owner := doc.Owner()
	var (
		out   []InsiderTransaction
		skips []Skip
	)
	for i, t := range doc.NonDerivativeTransactions() {
		tx, skip := normalizeOne(ticker, owner, t.Raw(), filingDate)
		if skip != nil {
			skip.Index = i
			skips = append(skips, *skip)
			continue
		}
		out = append(out, tx)
	}
	return out, skips
}

func normalizeOne(ticker string, owner Owner, raw RawTransaction, filingDate time.Time) (tx InsiderTransaction, skip *Skip) {
	defer func() {
		if r := recover(); r != nil {
			skip = &Skip{Code: raw.Code, Reason: SkipPanic, Err: fmt.Errorf("%v", r)}
		}
	}()

	if raw.Code == "" {
		return tx, &Skip{Reason: SkipMissingCode}
	}
	if raw.Shares == "" {
		return tx, &Skip{Code: raw.Code, Reason: SkipMissingShares}
	}

	var typ TransactionType
	switch raw.Code {
	case "P":
		typ = Buy
	case "S":
		typ = Sell
	default:
		return tx, &Skip{Code: raw.Code, Reason: SkipUnsupportedCode}
	}

	shares, err := parseNumber(raw.Shares)
	if err != nil {
		return tx, &Skip{Code: raw.Code, Reason: SkipInvalidShares, Err: err}
	}
	if !shares.IsPositive() {
		return tx, &Skip{Code: raw.Code, Reason: SkipInvalidShares, Err: fmt.Errorf("share count %s is not positive", shares)}
	}

	tx = InsiderTransaction{
		Ticker:          ticker,
		InsiderName:     owner.Name,
		InsiderTitle:    owner.Title,
		TransactionDate: filingDate,
		Type:            typ,
		Shares:          shares.InexactFloat64(),
		FilingDate:      filingDate,
	}
	// only an absent date falls back to the filing date
	if raw.Date != "" {
		d, err := ParseDate(raw.Date)
		if err != nil {
			return InsiderTransaction{}, &Skip{Code: raw.Code, Reason: SkipInvalidDate, Err: err}
		}
		tx.TransactionDate = d
	}

	if raw.Price != "" {
		price, err := parseNumber(raw.Price)
		if err != nil {
			return InsiderTransaction{}, &Skip{Code: raw.Code, Reason: SkipInvalidPrice, Err: err}
		}
		if price.IsNegative() {
			return InsiderTransaction{}, &Skip{Code: raw.Code, Reason: SkipInvalidPrice, Err: fmt.Errorf("price %s is negative", price)}
		}
		p := price.InexactFloat64()
		total := shares.Mul(price).InexactFloat64()
		tx.PricePerShare = &p
		tx.TotalValue = &total
	}
	return tx, nil
}

func parseNumber(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "$")
	return decimal.NewFromString(s)
}

// ParseDate parses an EDGAR calendar date. Values such as "2025-03-14-05:00"
// carry a zone suffix; only the leading date is used.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// NormalizeName cleans names and titles copied out of filings so that the
// same person always produces the same dedup key.
//
// Normalizations performed:
// - Non-breaking and other Unicode spaces → regular spaces
// - Zero-width and format characters → removed
// - Runs of whitespace → single space, trimmed
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(removeInvisibleChars(normalizeWhitespace(s))), " ")
}

// normalizeWhitespace converts various Unicode whitespace characters to regular spaces
func normalizeWhitespace(text string) string {
	var result strings.Builder
	result.Grow(len(text))

	for _, r := range text {
		switch r {
		case '\u00A0': // Non-breaking space (NBSP)
			result.WriteRune(' ')
		case '\u2000', '\u2001', '\u2002', '\u2003', '\u2004', '\u2005': // En quad, Em quad, etc.
			result.WriteRune(' ')
		case '\u2006', '\u2007', '\u2008', '\u2009', '\u200A': // Figure space, etc.
			result.WriteRune(' ')
		case '\u202F', '\u205F', '\u3000':
			result.WriteRune(' ')
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

// removeInvisibleChars removes zero-width and other invisible characters
func removeInvisibleChars(text string) string {
	var result strings.Builder
	result.Grow(len(text))

	for _, r := range text {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u180E':
			continue
		default:
			if unicode.Is(unicode.Cf, r) {
				continue
			}
			result.WriteRune(r)
		}
	}

	return result.String()
}
