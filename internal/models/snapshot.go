package models

import "time"

// Snapshot is the immutable rendered copy of a medical file produced when a
// professional approves it. Rows are append-only, keyed by (file_id, version)
// with version increasing monotonically per file.
type Snapshot struct {
	ID            string    `db:"id" json:"id"`
	MedicalFileID string    `db:"medical_file_id" json:"medical_file_id"`
	Version       int       `db:"version" json:"version"`
	ContentRef    string    `db:"content_ref" json:"content_ref"`
	ContentSHA256 string    `db:"content_sha256" json:"content_sha256"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
