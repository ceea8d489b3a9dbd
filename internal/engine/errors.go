package engine

import "strings"

// ErrorClass buckets generation failures for logging and metrics.
type ErrorClass string

const (
	ErrorClassAuth            ErrorClass = "AUTH"
	ErrorClassRateLimit       ErrorClass = "RATE_LIMIT"
	ErrorClassTimeout         ErrorClass = "TIMEOUT"
	ErrorClassContextOverflow ErrorClass = "CONTEXT_OVERFLOW"
	ErrorClassUnknown         ErrorClass = "UNKNOWN"
)

// errorNeedles maps each class to provider message fragments that imply it.
// Order matters: auth beats rate-limit beats timeout beats overflow.
var errorNeedles = []struct {
	class   ErrorClass
	needles []string
}{
	{ErrorClassAuth, []string{"401", "unauthorized", "invalid api key", "403", "forbidden"}},
	{ErrorClassRateLimit, []string{"429", "rate limit", "rate_limit", "quota", "too many requests"}},
	{ErrorClassTimeout, []string{"deadline exceeded", "timeout", "timed out"}},
	{ErrorClassContextOverflow, []string{"context length", "context_length", "token limit", "max tokens", "context window"}},
}

// ClassifyError inspects the error message for known provider patterns and
// returns the most specific class that matches.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, bucket := range errorNeedles {
		for _, needle := range bucket.needles {
			if strings.Contains(msg, needle) {
				return bucket.class
			}
		}
	}
	return ErrorClassUnknown
}
