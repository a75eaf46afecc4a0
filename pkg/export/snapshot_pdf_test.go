package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSnapshotPDF(t *testing.T) {
	renderer := NewSnapshotPDF()
	doc := SnapshotDocument{
		FileID:      "file-1",
		Version:     1,
		GeneratedAt: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		Patient:     "Pau Diaz",
		Student:     "Ana Lopez",
		Sections: []SnapshotSection{
			{Title: "pathological", Payload: json.RawMessage(`{"allergies":"penicillin","surgeries":2}`)},
			{Title: "family", Payload: json.RawMessage(`{"diabetes":true}`)},
		},
	}

	data, err := renderer.Render(doc)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	// gofpdf output always begins with the PDF header.
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestRenderSnapshotPDFMalformedSection(t *testing.T) {
	renderer := NewSnapshotPDF()
	doc := SnapshotDocument{
		FileID:      "file-1",
		Version:     1,
		GeneratedAt: time.Now(),
		Sections: []SnapshotSection{
			{Title: "pathological", Payload: json.RawMessage(`{"broken"`)},
		},
	}

	_, err := renderer.Render(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pathological")
}

func TestRenderSnapshotPDFEmptySections(t *testing.T) {
	renderer := NewSnapshotPDF()
	data, err := renderer.Render(SnapshotDocument{
		FileID:      "file-2",
		Version:     3,
		GeneratedAt: time.Now(),
		Sections:    []SnapshotSection{{Title: "family"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
