// Package proxy implements the socks5d listener side: the SOCKS5 accept loop,
// the per-connection session state machine and the bidirectional relay with
// half-close, plus listener helpers shared with the plain port forwarder.
package proxy
