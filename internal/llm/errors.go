package llm

import "regexp"

// ErrorType is one of the caller-facing error kinds.
type ErrorType string

const (
	ErrorJSONParse          ErrorType = "json_parse_error"
	ErrorRateLimit          ErrorType = "rate_limit_exceeded"
	ErrorContextOverflow    ErrorType = "context_overflow"
	ErrorUpstream           ErrorType = "upstream_error"
	ErrorTimeout            ErrorType = "timeout"
	ErrorServiceUnavailable ErrorType = "service_unavailable"
	ErrorInternal           ErrorType = "internal_error"
	ErrorAllProvidersFailed ErrorType = "all_providers_failed"
)

const contextOverflowMessage = "Context overflow: prompt too large for the model. Try /reset (or /new) to start a fresh session, or use a larger-context model."

// contextOverflowPatterns is the case-insensitive regex battery that
// detects a cryptic upstream error as a context overflow.
var contextOverflowPatterns = compilePatterns([]string{
	`cannot read properties of (undefined|null).*prompt`,
	`prompt_tokens.*(undefined|null)`,
	`context (window|length).*exceeded`,
	`maximum context.*exceeded`,
	`request.*too large`,
	`prompt is too long`,
	`exceeds model context`,
	`413.*too large`,
	`request size exceeds`,
})

func compilePatterns(raws []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(raws))
	for _, raw := range raws {
		out = append(out, regexp.MustCompile("(?is)"+raw))
	}
	return out
}

// TranslatedError is the outcome of passing an upstream error message
// through the context-overflow detector.
type TranslatedError struct {
	Status  int
	Type    ErrorType
	Message string
	Details string
}

// Translate inspects message (typically extracted from an upstream 5xx
// or a connection failure) and rewrites it to a context_overflow error
// if it matches the regex battery, preserving the original message in
// Details for observability; otherwise it returns message unchanged as
// Message with defaultType/defaultStatus and an empty Details.
func Translate(message string, defaultStatus int, defaultType ErrorType) TranslatedError {
	for _, re := range contextOverflowPatterns {
		if re.MatchString(message) {
			return TranslatedError{
				Status:  503,
				Type:    ErrorContextOverflow,
				Message: contextOverflowMessage,
				Details: message,
			}
		}
	}
	return TranslatedError{
		Status:  defaultStatus,
		Type:    defaultType,
		Message: message,
	}
}
