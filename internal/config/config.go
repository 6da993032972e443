// Package config loads and validates the resolver's configuration:
// global behavior flags, the attribute mapping table, and one LDAP
// connection block per tenant.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/isometry/directory-resolver/internal/directory"
	"github.com/isometry/directory-resolver/internal/directory/ldapdir"
	"github.com/isometry/directory-resolver/internal/mapping"
)

// Config is the full application configuration.
type Config struct {
	Resolver ResolverConfig  `mapstructure:"resolver"`
	Mappings []MappingConfig `mapstructure:"mappings"`
	Tenants  []TenantConfig  `mapstructure:"tenants"`
}

// ResolverConfig holds the global behavior flags.
type ResolverConfig struct {
	// ExactMatchOnly forces equality predicates for every search.
	ExactMatchOnly bool `mapstructure:"exact_match_only"`

	// AlwaysResolveUserInput surfaces the raw input as an identity
	// entity when a search finds nothing.
	AlwaysResolveUserInput bool `mapstructure:"always_resolve_user_input"`

	MaxResults    int           `mapstructure:"max_results" default:"30"`
	Timeout       time.Duration `mapstructure:"timeout" default:"10s"`
	PageSize      int           `mapstructure:"page_size" default:"100"`
	MaxRetries    int           `mapstructure:"max_retries" default:"3"`
	DisplayPrefix string        `mapstructure:"display_prefix"`
	LogLevel      string        `mapstructure:"log_level" default:"info"`
}

// MappingConfig is one attribute mapping row. Property names use the
// directory's wire attribute names (sAMAccountName, mail, ...).
type MappingConfig struct {
	EntityKind             string `mapstructure:"entity_kind" default:"user"`
	DirectoryProperty      string `mapstructure:"directory_property"`
	GuestDirectoryProperty string `mapstructure:"guest_directory_property"`
	ExternalType           string `mapstructure:"external_type"`
	ExternalTypeLabel      string `mapstructure:"external_type_label"`
	UseMainMapping         bool   `mapstructure:"use_main_mapping"`
	MetadataKey            string `mapstructure:"metadata_key"`
	PrefixBypassToken      string `mapstructure:"prefix_bypass_token"`
	DisplayProperty        string `mapstructure:"display_property"`
	ExactMatchOnly         bool   `mapstructure:"exact_match_only"`
}

// TenantConfig is one directory tenant connection block.
type TenantConfig struct {
	Name string `mapstructure:"name"`

	URLs     string `mapstructure:"urls"` // comma-separated
	BaseDN   string `mapstructure:"base_dn"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	KerberosRealm  string `mapstructure:"kerberos_realm"`
	KerberosKeytab string `mapstructure:"kerberos_keytab"`
	Krb5Conf       string `mapstructure:"krb5_conf"`

	StartTLS           bool `mapstructure:"start_tls"`
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	MaxConnections int           `mapstructure:"max_connections" default:"10"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" default:"30s"`

	ExcludeGuests      bool     `mapstructure:"exclude_guests"`
	ExcludeMembers     bool     `mapstructure:"exclude_members"`
	SecurityGroupsOnly bool     `mapstructure:"security_groups_only"`
	Unsupported        []string `mapstructure:"unsupported_properties"`
}

// Load reads configuration from an optional YAML file plus environment
// variables (prefix DIRRESOLVE_, e.g. DIRRESOLVE_RESOLVER_MAX_RESULTS).
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("DIRRESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("dirresolve")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dirresolve")
		_ = v.ReadInConfig() // optional
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &cfg, nil
}

// MappingSet translates the mapping rows into a validated mapping set.
// Every invariant violation surfaces here, before any request runs.
func (c *Config) MappingSet() (*mapping.Set, error) {
	mappings := make([]mapping.Mapping, 0, len(c.Mappings))
	for i, mc := range c.Mappings {
		m, err := mc.toMapping()
		if err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i, err)
		}
		mappings = append(mappings, m)
	}
	return mapping.NewSet(mappings)
}

func (mc MappingConfig) toMapping() (mapping.Mapping, error) {
	var m mapping.Mapping

	switch mc.EntityKind {
	case "user", "":
		m.EntityKind = directory.KindUser
	case "group":
		m.EntityKind = directory.KindGroup
	default:
		return m, fmt.Errorf("unknown entity kind %q", mc.EntityKind)
	}

	var err error
	if m.DirectoryProperty, err = directory.ParseProperty(mc.DirectoryProperty); err != nil {
		return m, err
	}
	if mc.GuestDirectoryProperty != "" {
		if m.GuestDirectoryProperty, err = directory.ParseProperty(mc.GuestDirectoryProperty); err != nil {
			return m, err
		}
	}
	if mc.DisplayProperty != "" {
		if m.DisplayProperty, err = directory.ParseProperty(mc.DisplayProperty); err != nil {
			return m, err
		}
	}

	m.ExternalType = mc.ExternalType
	m.ExternalTypeLabel = mc.ExternalTypeLabel
	m.UseMainMapping = mc.UseMainMapping
	m.MetadataKey = mc.MetadataKey
	m.PrefixBypassToken = mc.PrefixBypassToken
	m.ExactMatchOnly = mc.ExactMatchOnly
	return m, nil
}

// BuildTenants builds one connected tenant descriptor per tenant
// block, in configuration order. That order is load-bearing: results
// concatenate in it.
func (c *Config) BuildTenants(log zerolog.Logger) ([]*directory.Tenant, error) {
	tenants := make([]*directory.Tenant, 0, len(c.Tenants))
	for i, tc := range c.Tenants {
		tenant, err := tc.toTenant(log)
		if err != nil {
			return nil, fmt.Errorf("tenant %d (%s): %w", i, tc.Name, err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}

func (tc TenantConfig) toTenant(log zerolog.Logger) (*directory.Tenant, error) {
	if tc.Name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}

	unsupported := make([]directory.Property, 0, len(tc.Unsupported))
	for _, name := range tc.Unsupported {
		p, err := directory.ParseProperty(name)
		if err != nil {
			return nil, err
		}
		unsupported = append(unsupported, p)
	}

	backend, err := ldapdir.New(ldapdir.Config{
		URLs:               splitURLs(tc.URLs),
		BaseDN:             tc.BaseDN,
		Timeout:            tc.ConnectTimeout,
		Username:           tc.Username,
		Password:           tc.Password,
		Realm:              tc.KerberosRealm,
		Keytab:             tc.KerberosKeytab,
		Krb5Conf:           tc.Krb5Conf,
		StartTLS:           tc.StartTLS,
		InsecureSkipVerify: tc.InsecureSkipVerify,
		MaxConnections:     tc.MaxConnections,
	}, log.With().Str("tenant", tc.Name).Logger())
	if err != nil {
		return nil, err
	}

	return &directory.Tenant{
		Name:               tc.Name,
		Backend:            backend,
		ExcludeGuests:      tc.ExcludeGuests,
		ExcludeMembers:     tc.ExcludeMembers,
		SecurityGroupsOnly: tc.SecurityGroupsOnly,
		Unsupported:        unsupported,
	}, nil
}

func splitURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
