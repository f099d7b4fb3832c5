package logblock

// CloserFunc adapts a plain function to io.Closer, the same closure-as-
// interface idiom the teacher lineage uses for its own Close type.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}

// multiCloser closes every closer in order, returning the first error but
// still attempting the rest.
type multiCloser []CloserFunc

func (m multiCloser) Close() error {
	var firstErr error
	for _, c := range m {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
