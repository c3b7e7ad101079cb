package tagstream

import "fmt"

// KindXMLParse marks failures to recover a usable tag stream from model output.
const KindXMLParse = "XMLParseError"

// ParseError reports that no usable tags could be recovered from model output.
// It is always retryable: a fresh generation may well produce clean markup.
type ParseError struct {
	Kind   string
	Reason string
	Err    error
}

func newParseError(reason string, err error) *ParseError {
	return &ParseError{Kind: KindXMLParse, Reason: reason, Err: err}
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a new generation attempt may succeed.
func (e *ParseError) Retryable() bool {
	return true
}
