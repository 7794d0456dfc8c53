package edgar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// FormType4 is the insider ownership-change disclosure.
	FormType4 = "4"

	// DefaultMaxFilings bounds how many Form 4 filings one refresh processes.
	DefaultMaxFilings = 10

	// defaultPrimaryDocument is used when the index leaves the document name empty.
	defaultPrimaryDocument = "form4.xml"
)

// Submissions represents the SEC submissions data for a CIK
type Submissions struct {
	CIK       string      `json:"cik"`
	Name      string      `json:"name"`
	Tickers   []string    `json:"tickers"`
	Exchanges []string    `json:"exchanges"`
	Filings   FilingsData `json:"filings"`

	// Some mirrors of the endpoint flatten filings.recent to the top level.
	Recent *FilingArrays `json:"recent,omitempty"`
}

// FilingsData contains recent filings information
type FilingsData struct {
	Recent FilingArrays `json:"recent"`
}

// FilingArrays contains parallel arrays of filing data
// Each index in the arrays represents one filing
type FilingArrays struct {
	AccessionNumber       []string `json:"accessionNumber"`
	FilingDate            []string `json:"filingDate"`
	ReportDate            []string `json:"reportDate"`
	Form                  []string `json:"form"`
	PrimaryDocument       []string `json:"primaryDocument"`
	PrimaryDocDescription []string `json:"primaryDocDescription"`
}

// Filing represents a single filing from the index
type Filing struct {
	Index           int // position in the index arrays
	AccessionNumber string
	FilingDate      string
	ReportDate      string
	Form            string
	PrimaryDocument string
	CIK             CIK
}

// FetchSubmissions fetches and parses the CIK submissions JSON from SEC
func (c *Client) FetchSubmissions(ctx context.Context, cik CIK) (*Submissions, error) {
	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.dataBaseURL, cik.Padded())
	body, err := c.get(ctx, url, "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions: %w", err)
	}
	return ParseSubmissions(bytes.NewReader(body))
}

// ParseSubmissions parses a submissions JSON from a reader (for local files or testing)
func ParseSubmissions(r io.Reader) (*Submissions, error) {
	var subs Submissions
	if err := json.NewDecoder(r).Decode(&subs); err != nil {
		return nil, fmt.Errorf("failed to parse submissions JSON: %w", err)
	}
	return &subs, nil
}

// RecentArrays returns the recent-filings section, preferring filings.recent
// and falling back to a top-level recent object.
func (s *Submissions) RecentArrays() *FilingArrays {
	if s.Recent != nil && len(s.Filings.Recent.Form) == 0 {
		return s.Recent
	}
	return &s.Filings.Recent
}

// RecentFilings returns all recent filings as a slice
func (s *Submissions) RecentFilings(cik CIK) []Filing {
	return s.RecentArrays().GetFilings(cik)
}

// GetFilings converts the parallel arrays in FilingArrays into a slice of Filing structs.
// Only positions present in all four required arrays (form, filing date,
// accession number, primary document) produce a filing.
func (fa *FilingArrays) GetFilings(cik CIK) []Filing {
	count := fa.AlignedLen()
	filings := make([]Filing, count)

	for i := 0; i < count; i++ {
		filing := Filing{
			Index:           i,
			CIK:             cik,
			AccessionNumber: strings.TrimSpace(fa.AccessionNumber[i]),
			FilingDate:      strings.TrimSpace(fa.FilingDate[i]),
			Form:            strings.TrimSpace(fa.Form[i]),
			PrimaryDocument: strings.TrimSpace(fa.PrimaryDocument[i]),
		}
		if i < len(fa.ReportDate) {
			filing.ReportDate = fa.ReportDate[i]
		}
		filings[i] = filing
	}

	return filings
}

// AlignedLen is the number of positions covered by all four required arrays.
func (fa *FilingArrays) AlignedLen() int {
	return min(len(fa.Form), len(fa.FilingDate), len(fa.AccessionNumber), len(fa.PrimaryDocument))
}

// Aligned reports whether the four required arrays have equal length.
func (fa *FilingArrays) Aligned() bool {
	n := len(fa.Form)
	return len(fa.FilingDate) == n && len(fa.AccessionNumber) == n && len(fa.PrimaryDocument) == n
}

// DocumentName returns the file to fetch for this filing.
// For Form 4, the primaryDocument often points to HTML rendering (xslF345X05/doc4.xml);
// the XSL path prefix is stripped to get the raw XML.
func (f *Filing) DocumentName() string {
	doc := f.PrimaryDocument
	if strings.Contains(doc, "/") {
		parts := strings.Split(doc, "/")
		doc = parts[len(parts)-1]
	}
	if doc == "" {
		return defaultPrimaryDocument
	}
	return doc
}

// BuildURL constructs the full SEC EDGAR URL for this filing under base
// (e.g. https://www.sec.gov).
func (f *Filing) BuildURL(base string) string {
	// Remove hyphens from accession number for URL path
	accessionPath := strings.ReplaceAll(f.AccessionNumber, "-", "")

	// {base}/Archives/edgar/data/{CIK}/{ACCESSION}/{PRIMARY_DOCUMENT}
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s",
		strings.TrimRight(base, "/"),
		f.CIK.Stripped(),
		accessionPath,
		f.DocumentName(),
	)
}

// DocumentURL returns the archive URL of the filing's primary document.
func (c *Client) DocumentURL(f Filing) string {
	return f.BuildURL(c.archivesBaseURL)
}

// FilterByForm filters filings by exact form type. Amendments are not
// included implicitly: use "4/A" to match them.
func FilterByForm(filings []Filing, formType string) []Filing {
	formType = strings.TrimSpace(formType)
	var filtered []Filing
	for _, f := range filings {
		if f.Form == formType {
			filtered = append(filtered, f)
		}
	}
	return filtered
}

// SelectFilings keeps the filings of formType in index order and caps the
// result to the first limit entries. A limit of zero or less means no cap.
// The index lists newest filings first, so the cap keeps the most recent ones.
func SelectFilings(filings []Filing, formType string, limit int) []Filing {
	selected := FilterByForm(filings, formType)
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}
