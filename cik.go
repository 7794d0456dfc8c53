package edgar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

const cikWidth = 10

// CIK is an SEC Central Index Key held in its zero-stripped form.
type CIK string

// ParseCIK normalizes a stored identifier ("320193", "0000320193", " 320193 ").
// The result is all digits, at most ten of them, and not zero.
func ParseCIK(s string) (CIK, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty CIK")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid CIK %q: non-digit character", s)
		}
	}
	if len(s) > cikWidth {
		return "", fmt.Errorf("invalid CIK %q: more than %d digits", s, cikWidth)
	}
	stripped := strings.TrimLeft(s, "0")
	if stripped == "" {
		return "", fmt.Errorf("invalid CIK %q: zero", s)
	}
	return CIK(stripped), nil
}

// Padded returns the ten-digit form used by the submissions endpoint.
func (c CIK) Padded() string {
	s := c.Stripped()
	if len(s) >= cikWidth {
		return s
	}
	return strings.Repeat("0", cikWidth-len(s)) + s
}

// Stripped returns the form without leading zeros used by archive paths.
func (c CIK) Stripped() string {
	return strings.TrimLeft(string(c), "0")
}

func (c CIK) String() string { return c.Padded() }

// NormalizeTicker returns the canonical ticker form: trimmed and upper case.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// CompanyTicker is one row of the SEC company_tickers.json file.
type CompanyTicker struct {
	CIK    CIK
	Ticker string
	Title  string
}

type companyTickerEntry struct {
	CIK    json.Number `json:"cik_str"`
	Ticker string      `json:"ticker"`
	Title  string      `json:"title"`
}

// ParseCompanyTickers parses the SEC company_tickers.json format:
//
//	{"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."}, ...}
//
// Entries without a ticker or with an unusable CIK are dropped. The first
// entry wins when a ticker repeats. Output is sorted by ticker.
func ParseCompanyTickers(r io.Reader) ([]CompanyTicker, error) {
	var raw map[string]companyTickerEntry
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse company tickers JSON: %w", err)
	}

	// map order is random; walk the numeric keys so "first wins" is stable
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	seen := make(map[string]bool, len(raw))
	out := make([]CompanyTicker, 0, len(raw))
	for _, k := range keys {
		e := raw[k]
		ticker := NormalizeTicker(e.Ticker)
		if ticker == "" || seen[ticker] {
			continue
		}
		cik, err := ParseCIK(e.CIK.String())
		if err != nil {
			continue
		}
		seen[ticker] = true
		out = append(out, CompanyTicker{CIK: cik, Ticker: ticker, Title: strings.TrimSpace(e.Title)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

// FetchCompanyTickers downloads the SEC ticker-to-CIK mapping.
func (c *Client) FetchCompanyTickers(ctx context.Context) ([]CompanyTicker, error) {
	body, err := c.get(ctx, c.archivesBaseURL+"/files/company_tickers.json", "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch company tickers: %w", err)
	}
	return ParseCompanyTickers(bytes.NewReader(body))
}
