package schema

// ValidationError is raised when an inbound client message fails structural validation. It carries the wire
// shape of the "error" frame sent back to the offending socket.
type ValidationError struct {
	Code    string
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	return e.Message
}
