package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// SnapshotSection is one interview section carried into the rendered
// document. Payload must be a JSON object; its fields are printed as-is.
type SnapshotSection struct {
	Title   string
	Payload json.RawMessage
}

// SnapshotDocument describes the point-in-time copy of a medical file to be
// rendered.
type SnapshotDocument struct {
	Title       string
	FileID      string
	Version     int
	GeneratedAt time.Time
	Patient     string
	Student     string
	Sections    []SnapshotSection
}

// SnapshotPDF renders snapshot documents with gofpdf.
type SnapshotPDF struct{}

// NewSnapshotPDF constructs the renderer.
func NewSnapshotPDF() *SnapshotPDF {
	return &SnapshotPDF{}
}

// Render produces the immutable PDF artifact. It is a pure function of the
// document: rendering the same input yields the same layout. A malformed
// section payload fails the whole render.
func (e *SnapshotPDF) Render(doc SnapshotDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	title := doc.Title
	if title == "" {
		title = "Medical File Snapshot"
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 9)
	header := [][2]string{
		{"File", doc.FileID},
		{"Version", fmt.Sprintf("%d", doc.Version)},
		{"Generated", doc.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Patient", doc.Patient},
		{"Student", doc.Student},
	}
	for _, kv := range header {
		if kv[1] == "" {
			continue
		}
		pdf.CellFormat(30, 6, kv[0], "", 0, "", false, 0, "")
		pdf.CellFormat(0, 6, kv[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	for _, section := range doc.Sections {
		fields, err := flattenSection(section.Payload)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", section.Title, err)
		}

		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, section.Title, "B", 1, "", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		if len(fields) == 0 {
			pdf.CellFormat(0, 6, "no data recorded", "", 1, "", false, 0, "")
		}
		for _, kv := range fields {
			pdf.CellFormat(60, 6, kv[0], "", 0, "", false, 0, "")
			pdf.MultiCell(0, 6, kv[1], "", "", false)
		}
		pdf.Ln(3)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render snapshot pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// flattenSection turns an opaque JSON object into sorted key/value lines.
func flattenSection(payload json.RawMessage) ([][2]string, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, stringify(fields[k])})
	}
	return out, nil
}

func stringify(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return fmt.Sprintf("%t", value)
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%g", value), ".0")
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(raw)
	}
}
