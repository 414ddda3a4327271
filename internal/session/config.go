package session

import (
	"fmt"
	"time"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultCookieName    = "_session"
	DefaultTTL           = 24 * time.Hour
	DefaultAnonymousTTL  = time.Hour
	DefaultIdleTimeout   = 2 * time.Hour
	DefaultTouchInterval = time.Minute
	DefaultStoreTimeout  = 3 * time.Second
)

// Config controls session lifetimes and the cookie carrier.
type Config struct {
	CookieName string

	// TTL is the absolute lifetime of an authenticated session.
	TTL time.Duration
	// AnonymousTTL is the lifetime of a pre-login session.
	AnonymousTTL time.Duration
	// IdleTimeout ends a session unused for this long. Zero disables it.
	IdleTimeout time.Duration
	// TouchInterval limits how often LastUsedAt is written back. With an idle
	// timeout it is capped at half of IdleTimeout, so a stored LastUsedAt is
	// never staler than the idle window can tolerate.
	TouchInterval time.Duration
	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.AnonymousTTL == 0 {
		c.AnonymousTTL = DefaultAnonymousTTL
	}
	if c.TouchInterval == 0 {
		c.TouchInterval = DefaultTouchInterval
	}
	if c.IdleTimeout > 0 && c.TouchInterval > c.IdleTimeout/2 {
		c.TouchInterval = c.IdleTimeout / 2
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	if c.TTL <= 0 || c.AnonymousTTL <= 0 {
		return fmt.Errorf("session TTL and anonymous TTL must be greater than 0")
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("session idle timeout must not be negative")
	}
	if c.TouchInterval < 0 {
		return fmt.Errorf("session touch interval must not be negative")
	}
	if c.IdleTimeout > 0 && c.TouchInterval >= c.IdleTimeout {
		return fmt.Errorf("session touch interval (%s) must be shorter than the idle timeout (%s)", c.TouchInterval, c.IdleTimeout)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("session store timeout must be greater than 0")
	}
	return nil
}
