package socks5

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"unicode/utf8"

	txsocks5 "github.com/txthinking/socks5"
)

// Address types (ATYP).
const (
	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6
)

// Destination is a decoded DST.ADDR/DST.PORT pair. The zero value is not a
// valid destination.
type Destination struct {
	atyp byte
	ip   netip.Addr
	name string
	port uint16
}

// DestinationFromAddrPort returns an IPv4 or IPv6 destination. IPv4-mapped
// IPv6 addresses stay IPv6.
func DestinationFromAddrPort(ap netip.AddrPort) (Destination, error) {
	ip := ap.Addr()
	switch {
	case ip.Is4():
		return Destination{atyp: ATYPIPv4, ip: ip, port: ap.Port()}, nil
	case ip.Is6():
		return Destination{atyp: ATYPIPv6, ip: ip.WithZone(""), port: ap.Port()}, nil
	default:
		return Destination{}, errors.New("socks5: invalid ip address")
	}
}

// DestinationFromDomain returns a domain-name destination. name must be 1 to
// 255 bytes of valid UTF-8.
func DestinationFromDomain(name string, port uint16) (Destination, error) {
	if len(name) == 0 || len(name) > 255 || !utf8.ValidString(name) {
		return Destination{}, protocolError("domain", byte(len(name)), ErrInvalidDomain)
	}
	return Destination{atyp: ATYPDomain, name: name, port: port}, nil
}

// DestinationFromAddr parses a "host:port" dial string. Hosts that parse as
// IP literals become IP destinations, anything else is a domain.
func DestinationFromAddr(address string) (Destination, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Destination{}, fmt.Errorf("socks5: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Destination{}, fmt.Errorf("socks5: invalid port %q", portStr)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return DestinationFromAddrPort(netip.AddrPortFrom(ip, uint16(port)))
	}
	return DestinationFromDomain(host, uint16(port))
}

// Type returns the ATYP byte.
func (d Destination) Type() byte { return d.atyp }

// Port returns DST.PORT.
func (d Destination) Port() uint16 { return d.port }

// IsDomain reports whether d carries a domain name rather than an IP.
func (d Destination) IsDomain() bool { return d.atyp == ATYPDomain }

// Host returns the domain name or the textual IP address.
func (d Destination) Host() string {
	if d.atyp == ATYPDomain {
		return d.name
	}
	if !d.ip.IsValid() {
		return ""
	}
	return d.ip.String()
}

// AddrPort returns the IP destination, or false for domain names.
func (d Destination) AddrPort() (netip.AddrPort, bool) {
	if d.atyp == ATYPDomain || !d.ip.IsValid() {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(d.ip, d.port), true
}

// String returns a connectable "host:port", bracketing IPv6 literals.
func (d Destination) String() string {
	return net.JoinHostPort(d.Host(), strconv.Itoa(int(d.port)))
}

// AppendBinary appends ATYP, DST.ADDR and DST.PORT in wire format.
func (d Destination) AppendBinary(b []byte) ([]byte, error) {
	switch d.atyp {
	case ATYPIPv4:
		a := d.ip.As4()
		b = append(b, ATYPIPv4)
		b = append(b, a[:]...)
	case ATYPIPv6:
		a := d.ip.As16()
		b = append(b, ATYPIPv6)
		b = append(b, a[:]...)
	case ATYPDomain:
		b = append(b, ATYPDomain, byte(len(d.name)))
		b = append(b, d.name...)
	default:
		return b, protocolError("encode address", d.atyp, ErrUnsupportedAddressType)
	}
	return binary.BigEndian.AppendUint16(b, d.port), nil
}

// MarshalBinary returns ATYP, DST.ADDR and DST.PORT in wire format.
func (d Destination) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(make([]byte, 0, 1+1+255+2))
}

// ParseDestination decodes ATYP, DST.ADDR and DST.PORT from the front of b
// and returns the number of bytes consumed.
func ParseDestination(b []byte) (Destination, int, error) {
	if len(b) == 0 {
		return Destination{}, 0, transportError("read address type", io.ErrUnexpectedEOF)
	}
	r := bytes.NewReader(b[1:])
	d, err := ReadDestination(r, b[0])
	if err != nil {
		return Destination{}, 0, err
	}
	return d, len(b) - r.Len(), nil
}

// ReadDestination reads DST.ADDR and DST.PORT for the given ATYP from r. An
// unknown ATYP fails without reading anything.
func ReadDestination(r io.Reader, atyp byte) (Destination, error) {
	switch atyp {
	case ATYPIPv4:
		var buf [net.IPv4len + 2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Destination{}, transportError("read ipv4 address", unexpected(err))
		}
		ip := netip.AddrFrom4([4]byte(buf[:net.IPv4len]))
		return Destination{atyp: ATYPIPv4, ip: ip, port: binary.BigEndian.Uint16(buf[net.IPv4len:])}, nil

	case ATYPIPv6:
		var buf [net.IPv6len + 2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Destination{}, transportError("read ipv6 address", unexpected(err))
		}
		ip := netip.AddrFrom16([16]byte(buf[:net.IPv6len]))
		return Destination{atyp: ATYPIPv6, ip: ip, port: binary.BigEndian.Uint16(buf[net.IPv6len:])}, nil

	case ATYPDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return Destination{}, transportError("read domain length", unexpected(err))
		}
		if l[0] == 0 {
			return Destination{}, protocolError("domain", 0, ErrInvalidDomain)
		}
		buf := make([]byte, int(l[0])+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Destination{}, transportError("read domain", unexpected(err))
		}
		name := buf[:l[0]]
		if !utf8.Valid(name) {
			return Destination{}, protocolError("domain", l[0], ErrInvalidDomain)
		}
		return Destination{atyp: ATYPDomain, name: string(name), port: binary.BigEndian.Uint16(buf[l[0]:])}, nil

	default:
		return Destination{}, protocolError("address type", atyp, ErrUnsupportedAddressType)
	}
}
