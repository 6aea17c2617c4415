package socks5

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedVersion is returned when VER is not 5.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// ErrNoAcceptableMethods is returned when the client did not offer the
	// no-authentication method.
	ErrNoAcceptableMethods = errors.New("no acceptable authentication methods")
	// ErrUnsupportedCommand is returned for any CMD other than CONNECT.
	ErrUnsupportedCommand = errors.New("unsupported command")
	// ErrUnsupportedAddressType is returned for an ATYP outside IPv4, domain
	// and IPv6.
	ErrUnsupportedAddressType = errors.New("unsupported address type")
	// ErrInvalidDomain is returned for an empty or non UTF-8 domain name.
	ErrInvalidDomain = errors.New("invalid domain name")
)

// ProtocolError reports a peer that spoke something other than the subset of
// SOCKS5 this package accepts. Err is one of the sentinel errors above.
type ProtocolError struct {
	Op    string
	Value byte
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("socks5 %s: %v (0x%02x)", e.Op, e.Err, e.Value)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a read or write failure on the client stream,
// including a peer that closed in the middle of a fixed-size field.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("socks5 %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err was caused by a malformed or
// unsupported message rather than by the transport.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func protocolError(op string, value byte, err error) error {
	return &ProtocolError{Op: op, Value: value, Err: err}
}

func transportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}
