package hub

import "fmt"

// InvocationError is a failure reported by the server for one invocation.
type InvocationError struct {
	Hub        string
	Method     string
	Message    string
	StackTrace string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Hub, e.Method, e.Message)
}
