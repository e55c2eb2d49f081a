package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// VerifyRequest is the body of the account verification endpoint.
type VerifyRequest struct {
	VerificationCode string `json:"verification_code"`
}

// Validate checks the request has a code.
func (r *VerifyRequest) Validate() error {
	if r.VerificationCode == "" {
		return errMissingVerificationCode
	}
	return nil
}

// VerifyResult describes a freshly linked account.
type VerifyResult struct {
	ParticipantID int64  `json:"tg_id"`
	Handle        string `json:"username"`
	UserID        int64  `json:"user_id"`
}
