package edgar

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var archivePathPattern = regexp.MustCompile(`/edgar/data/(\d+)/(\d+)/`)

// FilingMetadata identifies a filing by its company and accession number.
type FilingMetadata struct {
	CIK       CIK
	Accession string
}

// ExtractMetadataFromURL parses SEC EDGAR URLs to extract CIK and accession number
// Example URL: https://www.sec.gov/Archives/edgar/data/1631574/000119312525314736/ownership.xml
func ExtractMetadataFromURL(url string) (*FilingMetadata, error) {
	matches := archivePathPattern.FindStringSubmatch(url)
	if len(matches) < 3 {
		return nil, fmt.Errorf("could not extract CIK and accession from URL")
	}
	cik, err := ParseCIK(matches[1])
	if err != nil {
		return nil, err
	}

	// Format accession number: 0001193125-25-314736
	accession := matches[2]
	if len(accession) == 18 {
		accession = accession[:10] + "-" + accession[10:12] + "-" + accession[12:]
	}

	return &FilingMetadata{CIK: cik, Accession: accession}, nil
}

// Filename returns {CIK}-{accession}_ownership.{ext}, degrading to
// ownership.{ext} when metadata is incomplete.
func (m *FilingMetadata) Filename(ext string) string {
	if m == nil || m.CIK == "" {
		return "ownership." + ext
	}
	if m.Accession == "" {
		return fmt.Sprintf("%s_ownership.%s", m.CIK.Stripped(), ext)
	}
	return fmt.Sprintf("%s-%s_ownership.%s", m.CIK.Stripped(), m.Accession, ext)
}

// SaveOriginal writes the fetched document into dir under m's filename and
// returns the path written.
func SaveOriginal(dir string, m *FilingMetadata, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, m.Filename("xml"))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save original XML: %w", err)
	}
	return path, nil
}
