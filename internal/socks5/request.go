package socks5

import (
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// Commands (CMD). Only CmdConnect is served.
const (
	CmdConnect = txsocks5.CmdConnect
	CmdBind    = txsocks5.CmdBind
	CmdUDP     = txsocks5.CmdUDP
)

// Request is a decoded CONNECT request.
type Request struct {
	Cmd  byte
	Atyp byte
	Dest Destination
}

// ReadRequest reads VER, CMD, RSV and ATYP, then the destination.
//
// A CMD other than CONNECT fails before any destination byte is read, as does
// an unknown ATYP. On those failures the returned Request still carries Cmd
// and Atyp so the caller can pick a reply.
func ReadRequest(r io.Reader) (Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, transportError("read request", err)
	}

	req := Request{Cmd: hdr[1], Atyp: hdr[3]}
	if hdr[0] != Version {
		return req, protocolError("request", hdr[0], ErrUnsupportedVersion)
	}
	if req.Cmd != CmdConnect {
		return req, protocolError("request", req.Cmd, ErrUnsupportedCommand)
	}

	dst, err := ReadDestination(r, req.Atyp)
	if err != nil {
		return req, err
	}
	req.Dest = dst
	return req, nil
}

// AppendBinary appends the request in wire format.
func (r Request) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, Version, r.Cmd, 0x00)
	return r.Dest.AppendBinary(b)
}
