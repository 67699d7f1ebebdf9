package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Login", "Role"},
		Rows: []map[string]string{
			{"Login": "ivanov", "Role": "STUDENT"},
			{"Login": "apetrova", "Role": "TEACHER"},
		},
	}
}

func TestCSVRender(t *testing.T) {
	payload, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Login,Role", lines[0])
	assert.Equal(t, "ivanov,STUDENT", lines[1])
}

func TestCSVRenderRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFRender(t *testing.T) {
	payload, err := NewPDFExporter().Render(sampleDataset(), "Directory")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(payload), "%PDF"))
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, FormatCSV.Valid())
	assert.True(t, FormatPDF.Valid())
	assert.False(t, Format("xlsx").Valid())
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
}
