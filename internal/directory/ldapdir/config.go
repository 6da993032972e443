// Package ldapdir implements the directory backend against an Active
// Directory style LDAP server, with connection pooling, simple and
// Kerberos authentication, and cookie-based paged searches.
package ldapdir

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// Pool limits. The cap stays well below typical AD server connection
// limits while still allowing concurrent tenant fan-out.
const maxPoolLimit = 100

// Config describes one LDAP tenant connection.
type Config struct {
	// URLs are ldap:// or ldaps:// endpoints, tried in order.
	URLs []string

	// BaseDN roots every search.
	BaseDN string

	// Timeout applies per LDAP round trip.
	Timeout time.Duration

	// Username and Password authenticate via simple bind, or supply
	// Kerberos credentials when Realm is set.
	Username string
	Password string

	// Realm, Keytab and Krb5Conf switch authentication to GSSAPI.
	Realm    string
	Keytab   string
	Krb5Conf string

	// StartTLS upgrades plain connections; InsecureSkipVerify disables
	// certificate validation (test environments only).
	StartTLS           bool
	InsecureSkipVerify bool

	// MaxConnections and MaxIdleTime bound the connection pool.
	MaxConnections int
	MaxIdleTime    time.Duration
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxConnections <= 0 {
		out.MaxConnections = 10
	}
	if out.MaxIdleTime <= 0 {
		out.MaxIdleTime = 5 * time.Minute
	}
	return &out
}

func (c *Config) validate() error {
	if len(c.URLs) == 0 {
		return errors.New("at least one LDAP URL is required")
	}
	if c.MaxConnections > maxPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", maxPoolLimit)
	}
	if c.BaseDN == "" {
		return errors.New("base DN is required")
	}
	return nil
}

func (c *Config) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

func (c *Config) useKerberos() bool {
	return c.Realm != ""
}
