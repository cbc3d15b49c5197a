package transport

import "time"

// Config holds connection settings for the editor host socket.
type Config struct {
	Host                 string
	Port                 int
	SocketTimeout        time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HeartbeatInterval    time.Duration
	MaxFrameBytes        uint32
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		Host:                 "localhost",
		Port:                 8080,
		SocketTimeout:        15 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       2 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		MaxFrameBytes:        64 * 1024 * 1024,
	}
}

// ReconnectBackoff returns the linear backoff slept before reconnect attempt n (zero-based).
func (c Config) ReconnectBackoff(attempts int) time.Duration {
	return c.ReconnectDelay * time.Duration(attempts+1)
}
