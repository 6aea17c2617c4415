// Package forward implements a plain TCP port forwarder: every accepted
// connection is dialed through to one fixed remote address and relayed with
// the same engine the SOCKS5 server uses. No protocol is spoken on either
// side.
package forward
