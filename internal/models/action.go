package models

// ActionVerb discriminates workflow actions. Every caller role funnels
// through the same tagged Action instead of per-role entry points.
type ActionVerb string

const (
	VerbRequestValidation    ActionVerb = "request_validation"
	VerbDecideValidation     ActionVerb = "decide_validation"
	VerbValidateProfessional ActionVerb = "validate_professional"
	VerbSubmitFile           ActionVerb = "submit_file"
	VerbReviewFile           ActionVerb = "review_file"
	VerbConfirmFile          ActionVerb = "confirm_file"
	VerbUpdateBackground     ActionVerb = "update_background"
)

// Decision is the approve/reject/confirm choice carried by deciding verbs.
type Decision string

const (
	DecisionActApprove Decision = "approve"
	DecisionActReject  Decision = "reject"
	DecisionActConfirm Decision = "confirm"
)

// Action is the single workflow input: a verb plus the fields that verb
// needs. TargetID is the entity acted on (a user for ledger verbs, a medical
// file otherwise).
type Action struct {
	Verb        ActionVerb            `json:"verb"`
	TargetID    string                `json:"target_id"`
	RequesterID string                `json:"requester_id,omitempty"`
	Decision    Decision              `json:"decision,omitempty"`
	Comment     string                `json:"comment,omitempty"`
	Section     BackgroundSectionName `json:"section,omitempty"`
	Payload     []byte                `json:"payload,omitempty"`
}
