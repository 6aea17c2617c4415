package socks5

import (
	"bytes"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	// Version is the SOCKS protocol version byte.
	Version = txsocks5.Ver

	// MethodNone is the no-authentication method.
	MethodNone = txsocks5.MethodNone
	// MethodNoAcceptable is sent when none of the offered methods is usable.
	MethodNoAcceptable = txsocks5.MethodUnsupportAll
)

// Negotiate reads the client's version identifier/method selection message
// and selects the no-authentication method.
//
// VER is checked before anything else is read. A client that does not offer
// MethodNone gets MethodNoAcceptable and an ErrNoAcceptableMethods error.
func Negotiate(rw io.ReadWriter) error {
	var hdr [2]byte
	if _, err := io.ReadFull(rw, hdr[:1]); err != nil {
		return transportError("read greeting", err)
	}
	if hdr[0] != Version {
		return protocolError("greeting", hdr[0], ErrUnsupportedVersion)
	}
	if _, err := io.ReadFull(rw, hdr[1:]); err != nil {
		return transportError("read greeting", unexpected(err))
	}

	methods := make([]byte, int(hdr[1]))
	if _, err := io.ReadFull(rw, methods); err != nil {
		return transportError("read methods", unexpected(err))
	}

	if !bytes.Contains(methods, []byte{MethodNone}) {
		_, _ = rw.Write([]byte{Version, MethodNoAcceptable})
		return protocolError("greeting", byte(len(methods)), ErrNoAcceptableMethods)
	}

	if _, err := rw.Write([]byte{Version, MethodNone}); err != nil {
		return transportError("write method selection", err)
	}
	return flush(rw)
}

// unexpected converts a clean EOF in the middle of a message into
// io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

type flusher interface {
	Flush() error
}

func flush(w io.Writer) error {
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return transportError("flush", err)
		}
	}
	return nil
}
