package livedto

// Error codes carried in DomainError.Code.
const (
	CodeBadRequest   = "bad_request"
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeCompletion   = "completion"
	CodeInternal     = "internal"
)

// DomainError is the error body of every non-2xx response.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// Field is set for CodeValidation.
	Field string `json:"field,omitempty"`

	// Completion details for CodeCompletion.
	Step            string `json:"step,omitempty"`
	ScoreID         int64  `json:"score_id,omitempty"`
	LiveGameRemains bool   `json:"live_game_remains,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "scorekeeper service error"
}
