// Package socks5 implements the server side of the SOCKS5 wire protocol used
// by socks5d: method negotiation, CONNECT request parsing and reply encoding.
//
// It only knows about bytes on a stream. Dialing, relaying and connection
// lifetime live in internal/proxy. Protocol constants are shared with
// github.com/txthinking/socks5 so that tests can cross-check this package
// against an independent encoder.
//
// Only the no-authentication method and the CONNECT command are supported.
package socks5
