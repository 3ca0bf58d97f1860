package matchdto

// DomainError is the error body returned to clients.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "match service error"
}

// ErrorResponse wraps a DomainError for REST replies.
type ErrorResponse struct {
	Error DomainError `json:"error"`
}
