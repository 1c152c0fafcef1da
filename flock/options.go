package flock

import "time"

const (
	DefaultHost     = "localhost"
	DefaultPort     = 12001
	DefaultBuffSize = 1024
	DefaultTimeout  = 1500 * time.Millisecond
)

type config struct {
	host          string
	port          int
	buffSize      int
	timeout       time.Duration
	followBounces bool
}

func defaultConfig() *config {
	return &config{
		host:     DefaultHost,
		port:     DefaultPort,
		buffSize: DefaultBuffSize,
		timeout:  DefaultTimeout,
	}
}

type Option func(*config)

func WithHost(host string) Option {
	return func(c *config) {
		c.host = host
	}
}

func WithPort(port int) Option {
	return func(c *config) {
		c.port = port
	}
}

// WithBufferSize sets the packet size; it must match the server's.
func WithBufferSize(size int) Option {
	return func(c *config) {
		c.buffSize = size
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

// WithFollowBounces makes the client retry a bounced write once against the
// primary the bounce names, instead of surfacing a BounceError.
func WithFollowBounces() Option {
	return func(c *config) {
		c.followBounces = true
	}
}
