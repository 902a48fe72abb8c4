package connection

import (
	"fmt"

	"github.com/goccy/go-json"
)

// DispatchError reports a subscriber that failed while handling an event.
// Processing of the remaining subscribers and messages continues.
type DispatchError struct {
	Event   string
	Message json.RawMessage
	Err     error
}

func (e *DispatchError) Error() string {
	if len(e.Message) > 0 {
		return fmt.Sprintf("error while handling %s event for message %s: %v", e.Event, e.Message, e.Err)
	}
	return fmt.Sprintf("error while handling %s event: %v", e.Event, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// HTTPError is returned when the server answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}
