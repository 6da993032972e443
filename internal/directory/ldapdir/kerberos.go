package ldapdir

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// kerberosBind performs a GSSAPI bind against the server behind rawURL.
func kerberosBind(conn *ldap.Conn, cfg *Config, rawURL string) error {
	client, err := gssapiClient(cfg)
	if err != nil {
		return fmt.Errorf("kerberos client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := servicePrincipal(rawURL)
	if err != nil {
		return err
	}
	return conn.GSSAPIBind(client, spn, "")
}

// gssapiClient builds a Kerberos client, preferring an existing
// credential cache over a keytab over a password.
func gssapiClient(cfg *Config) (ldap.GSSAPIClient, error) {
	krb5conf := cfg.Krb5Conf
	if krb5conf == "" {
		krb5conf = "/etc/krb5.conf"
	}
	if !fileExists(krb5conf) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	if ccache := defaultCCachePath(); fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, krb5conf, krb5client.DisablePAFXFAST(true))
	}
	if cfg.Keytab != "" && fileExists(cfg.Keytab) {
		return gssapi.NewClientWithKeytab(cfg.Username, cfg.Realm, cfg.Keytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}
	if cfg.Username != "" && cfg.Password != "" {
		return gssapi.NewClientWithPassword(cfg.Username, cfg.Realm, cfg.Password, krb5conf, krb5client.DisablePAFXFAST(true))
	}
	return nil, fmt.Errorf("no suitable kerberos credentials: provide a credential cache, keytab, or password")
}

// servicePrincipal derives the ldap/<host> SPN from the endpoint URL.
func servicePrincipal(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid LDAP URL %q: %w", rawURL, err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("no hostname in LDAP URL %q", rawURL)
	}
	return "ldap/" + host, nil
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
