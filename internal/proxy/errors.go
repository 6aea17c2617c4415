package proxy

import "fmt"

// UpstreamConnectError reports a failed dial to the requested destination.
type UpstreamConnectError struct {
	Addr string
	Err  error
}

func (e *UpstreamConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *UpstreamConnectError) Unwrap() error { return e.Err }
