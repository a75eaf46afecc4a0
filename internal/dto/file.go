package dto

import "encoding/json"

// ReviewFileRequest carries the professional's verdict on a file in review.
type ReviewFileRequest struct {
	Action  string `json:"action" validate:"required,oneof=approve reject"`
	Comment string `json:"comment"`
}

// ConfirmFileRequest carries the patient's verdict on an approved file.
type ConfirmFileRequest struct {
	Action  string `json:"action" validate:"required,oneof=confirm reject"`
	Comment string `json:"comment"`
}

// UpsertBackgroundRequest replaces one interview section's payload. The
// payload is opaque to the workflow beyond being valid JSON.
type UpsertBackgroundRequest struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// SnapshotDownload is the signed-link response for a rendered snapshot.
type SnapshotDownload struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}
