package dialer

import (
	"net"
	"time"
)

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// DNSServer is a host[:port] queried for domain destinations. Empty uses
	// the system resolver.
	DNSServer string
}
