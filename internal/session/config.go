package session

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/gominer/internal/pow"
	"github.com/bardlex/gominer/pkg/errors"
)

// DefaultPoolPort is used when the pool URL has no port.
const DefaultPoolPort = 3333

// Config is supplied once per Start.
type Config struct {
	PoolURL           string
	WalletAddress     string
	Password          string
	UserAgent         string
	NumThreads        int
	Intensity         float64
	Algorithm         string
	UsePoolDifficulty bool
	ShareQueueSize    int
	StatsInterval     time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.Password == "" {
		c.Password = "x"
	}
	if c.UserAgent == "" {
		c.UserAgent = "kuzadesign-miner/1.0"
	}
	if c.Algorithm == "" {
		c.Algorithm = pow.AlgorithmBlake3
	}
	if c.ShareQueueSize <= 0 {
		c.ShareQueueSize = 256
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 2 * time.Second
	}
}

// Validate returns a config error for a missing pool or wallet.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PoolURL) == "" {
		return errors.New(errors.ErrorTypeConfig, "validate_config", "pool URL is required")
	}
	if strings.TrimSpace(c.WalletAddress) == "" {
		return errors.New(errors.ErrorTypeConfig, "validate_config", "wallet address is required")
	}
	if _, _, err := ParsePoolURL(c.PoolURL); err != nil {
		return err
	}
	return nil
}

// ParsePoolURL extracts host and port from strings such as
// "stratum+tcp://pool.example.com:3333", "pool.example.com:4444" or
// "pool.example.com". Anything up to "://" and any path is ignored.
func ParsePoolURL(raw string) (string, int, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "", 0, errors.New(errors.ErrorTypeConfig, "parse_pool_url", "pool URL has no host").
			WithContext("url", raw)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port, or a bare IPv6 address.
		host = strings.Trim(s, "[]")
		return host, DefaultPoolPort, nil
	}
	if host == "" {
		return "", 0, errors.New(errors.ErrorTypeConfig, "parse_pool_url", "pool URL has no host").
			WithContext("url", raw)
	}
	if portStr == "" {
		return host, DefaultPoolPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, errors.New(errors.ErrorTypeConfig, "parse_pool_url",
			fmt.Sprintf("invalid port %q", portStr)).WithContext("url", raw)
	}
	return host, port, nil
}
