package exception

import (
	"errors"
	"fmt"
	"strings"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// StatusCoder is implemented by errors that carry an HTTP-like status code.
type StatusCoder interface {
	StatusCode() int
}

// RemoteError is a failure reported by the remote generation service.
type RemoteError struct {
	Code    int
	Status  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("remote error %d (%s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// StatusCode implements StatusCoder.
func (e *RemoteError) StatusCode() int {
	return e.Code
}

// classificationRule maps message substrings onto an error type.
// Rules are evaluated in order; the first hit wins.
type classificationRule struct {
	errorType  model.ErrorType
	httpStatus int
	needles    []string
}

var classificationRules = []classificationRule{
	{model.ErrorTypeSafetyBlocked, 400, []string{"safety", "blocked"}},
	{model.ErrorTypeRateLimited, 429, []string{"rate limit", "rate_limit", "ratelimit", "quota", "resource_exhausted"}},
	{model.ErrorTypeAuth, 401, []string{"authentication", "permission", "api_key"}},
	{model.ErrorTypeConnection, 0, []string{"connection", "timeout"}},
}

// sentinelRules match registered sentinel errors before any message rule.
var sentinelRules = []struct {
	name      string
	errorType model.ErrorType
}{
	{"context.DeadlineExceeded", model.ErrorTypeConnection},
}

// Classify inspects the error chain, its message and any status code
// attribute and returns the error type together with the HTTP status (0 when
// unknown).
func Classify(err error) (model.ErrorType, int) {
	if err == nil {
		return model.ErrorTypeNone, 0
	}
	for _, rule := range sentinelRules {
		if IsErrorOfType(err, rule.name) {
			return rule.errorType, 0
		}
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classificationRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.errorType, rule.httpStatus
			}
		}
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		return model.ErrorTypeAPI, coder.StatusCode()
	}
	return model.ErrorTypeUnknown, 0
}
