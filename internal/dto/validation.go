package dto

// RequestValidationRequest asks a supervisor to validate the caller.
type RequestValidationRequest struct {
	TargetID string `json:"target_id" validate:"required,uuid4"`
}

// DecideValidationRequest approves or rejects a pending request.
type DecideValidationRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
}
