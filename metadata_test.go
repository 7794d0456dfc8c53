package edgar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMetadataFromURL(t *testing.T) {
	m, err := ExtractMetadataFromURL("https://www.sec.gov/Archives/edgar/data/1631574/000119312525314736/ownership.xml")
	require.NoError(t, err)
	assert.Equal(t, CIK("1631574"), m.CIK)
	assert.Equal(t, "0001193125-25-314736", m.Accession)
	assert.Equal(t, "1631574-0001193125-25-314736_ownership.xml", m.Filename("xml"))

	_, err = ExtractMetadataFromURL("https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany")
	assert.Error(t, err)
}

func TestFilenameWithoutMetadata(t *testing.T) {
	var m *FilingMetadata
	assert.Equal(t, "ownership.xml", m.Filename("xml"))
	assert.Equal(t, "320193_ownership.json", (&FilingMetadata{CIK: "320193"}).Filename("json"))
}

func TestSaveOriginal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	m := &FilingMetadata{CIK: "78003", Accession: "0000078003-25-000120"}

	path, err := SaveOriginal(dir, m, []byte("<ownershipDocument/>"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "78003-0000078003-25-000120_ownership.xml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<ownershipDocument/>", string(data))
}
