package provision

import (
	"errors"
	"fmt"
)

var (
	ErrNoConversationURL = errors.New("response carries no conversation url")
	ErrNoPersonaID       = errors.New("response carries no persona id")
	ErrNotJSON           = errors.New("response is not json")
	ErrHTTPStatus        = errors.New("unexpected http status")
)

// ProvisioningError reports a failed persona or conversation creation.
type ProvisioningError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProvisioningError) Error() string {
	msg := "provision: " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": body: " + e.Body
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
