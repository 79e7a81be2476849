package depot

// TransportError wraps a depot operation failure with retry semantics.
type TransportError struct {
	// Op is the operation that failed ("connect", "fetch", ...).
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary marks errors worth retrying on the next poll.
	IsTemporary bool

	// IsAuthError marks authentication failures, which do not resolve
	// without operator action.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
