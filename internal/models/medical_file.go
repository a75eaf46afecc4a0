package models

import "time"

// FileStatus enumerates the medical file lifecycle states.
//
// Files are created in StatusEmpty when the patient registers and move to
// StatusInProgress once a student takes over the file. Rejections reopen the
// file as StatusInProgress; the rejected_by_* values remain in the enum so
// rows written by earlier releases keep loading.
type FileStatus string

const (
	StatusEmpty                  FileStatus = "empty"
	StatusInProgress             FileStatus = "in_progress"
	StatusReview                 FileStatus = "review"
	StatusFileApproved           FileStatus = "approved"
	StatusConfirmed              FileStatus = "confirmed"
	StatusRejectedByProfessional FileStatus = "rejected_by_professional"
	StatusRejectedByPatient      FileStatus = "rejected_by_patient"
)

// MedicalFile is the unit the review workflow operates on. Only the workflow
// service mutates FileStatus.
type MedicalFile struct {
	ID             string     `db:"id" json:"id"`
	PatientID      string     `db:"patient_id" json:"patient_id"`
	StudentID      *string    `db:"student_id" json:"student_id,omitempty"`
	ProfessionalID *string    `db:"professional_id" json:"professional_id,omitempty"`
	FileStatus     FileStatus `db:"file_status" json:"file_status"`
	SubmittedAt    *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ConfirmedAt    *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// BackgroundSectionName identifies one of the interview sections. The section
// payloads themselves are opaque JSON to the workflow.
type BackgroundSectionName string

const (
	SectionNonPathological BackgroundSectionName = "non_pathological"
	SectionPathological    BackgroundSectionName = "pathological"
	SectionFamily          BackgroundSectionName = "family"
	SectionGynecological   BackgroundSectionName = "gynecological"
)

// ValidSection reports whether the given name is a known interview section.
func ValidSection(name BackgroundSectionName) bool {
	switch name {
	case SectionNonPathological, SectionPathological, SectionFamily, SectionGynecological:
		return true
	}
	return false
}

// BackgroundSection holds one section's free-form record for a file.
type BackgroundSection struct {
	FileID    string                `db:"file_id" json:"file_id"`
	Section   BackgroundSectionName `db:"section" json:"section"`
	Payload   []byte                `db:"payload" json:"payload"`
	UpdatedBy string                `db:"updated_by" json:"updated_by"`
	UpdatedAt time.Time             `db:"updated_at" json:"updated_at"`
}

// FileComment is an append-only reviewer remark attached to a file.
type FileComment struct {
	ID        string    `db:"id" json:"id"`
	FileID    string    `db:"file_id" json:"file_id"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
