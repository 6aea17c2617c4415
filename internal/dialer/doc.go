// Package dialer provides outbound dialing implementations used by socks5d.
//
// Dialers implement a small interface (DialContext) and are used by the
// SOCKS5 server to establish outbound connections either directly or through
// an upstream SOCKS5 or HTTP CONNECT proxy. Domain destinations can be
// resolved through a dedicated DNS server with Resolver.
package dialer
