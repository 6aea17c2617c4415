package socks5

import (
	"errors"
	"io"
	"net"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

// Reply codes (REP).
const (
	RepSuccess             = txsocks5.RepSuccess
	RepServerFailure       = txsocks5.RepServerFailure
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
	RepAddressNotSupported = txsocks5.RepAddressNotSupported
)

// Reply is a server reply. A zero Bind encodes as the IPv4 address 0.0.0.0
// with port 0.
type Reply struct {
	Code byte
	Bind netip.AddrPort
}

// SuccessReply returns a REP=0x00 reply. If bind is nil or not a TCP address
// the bound address is zero-filled.
func SuccessReply(bind net.Addr) Reply {
	r := Reply{Code: RepSuccess}
	if ta, ok := bind.(*net.TCPAddr); ok && ta != nil {
		r.Bind = ta.AddrPort()
	}
	return r
}

// FailureReply returns a reply with the REP code matching err.
func FailureReply(err error) Reply {
	return Reply{Code: ReplyCodeFor(err)}
}

// ReplyCodeFor maps a session failure to a REP code. Anything that is not a
// recognized protocol error is a general server failure.
func ReplyCodeFor(err error) byte {
	switch {
	case err == nil:
		return RepSuccess
	case errors.Is(err, ErrUnsupportedCommand):
		return RepCommandNotSupported
	case errors.Is(err, ErrUnsupportedAddressType):
		return RepAddressNotSupported
	default:
		return RepServerFailure
	}
}

// AppendBinary appends VER REP RSV ATYP BND.ADDR BND.PORT.
func (r Reply) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, Version, r.Code, 0x00)

	ip := r.Bind.Addr().Unmap()
	if !ip.IsValid() {
		ip = netip.IPv4Unspecified()
	}
	bind, err := DestinationFromAddrPort(netip.AddrPortFrom(ip, r.Bind.Port()))
	if err != nil {
		return b, err
	}
	return bind.AppendBinary(b)
}

// WriteTo writes the encoded reply to w.
func (r Reply) WriteTo(w io.Writer) (int64, error) {
	b, err := r.AppendBinary(make([]byte, 0, 4+net.IPv6len+2))
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	if err != nil {
		return int64(n), transportError("write reply", err)
	}
	return int64(n), flush(w)
}
