package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope repeats the error message at the top level for clients that
// only read `message`.
type ErrorEnvelope struct {
	Message string   `json:"message"`
	Error   APIError `json:"error"`
}

type MessageEnvelope struct {
	Message string `json:"message"`
}
