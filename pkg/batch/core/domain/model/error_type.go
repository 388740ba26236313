package model

// ErrorType is the terminal classification recorded on a failed ManifestRecord.
type ErrorType string

const (
	ErrorTypeNone                ErrorType = ""
	ErrorTypeSafetyBlocked       ErrorType = "SAFETY_BLOCKED"
	ErrorTypeRateLimited         ErrorType = "RATE_LIMITED"
	ErrorTypeAuth                ErrorType = "AUTH_ERROR"
	ErrorTypeConnection          ErrorType = "CONNECTION_ERROR"
	ErrorTypeAPI                 ErrorType = "API_ERROR"
	ErrorTypeUnknown             ErrorType = "UNKNOWN_ERROR"
	ErrorTypeNoImageData         ErrorType = "NO_IMAGE_DATA"
	ErrorTypeUnexpected          ErrorType = "UNEXPECTED_ERROR"
	ErrorTypeMissingDomain       ErrorType = "MISSING_DOMAIN"
	ErrorTypeMissingSource       ErrorType = "MISSING_SOURCE"
	ErrorTypeMissingSourcePrompt ErrorType = "MISSING_SOURCE_PROMPT"
	ErrorTypeBatch               ErrorType = "BATCH_ERROR"
)

// IsRetryable reports whether a remote failure of this type may be retried.
// Safety blocks and authentication failures are final.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case ErrorTypeSafetyBlocked, ErrorTypeAuth:
		return false
	}
	return true
}

// IsIntegrity reports whether the type describes a plan-integrity failure.
func (t ErrorType) IsIntegrity() bool {
	switch t {
	case ErrorTypeMissingDomain, ErrorTypeMissingSource, ErrorTypeMissingSourcePrompt:
		return true
	}
	return false
}
