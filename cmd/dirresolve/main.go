// Command dirresolve resolves directory entities from the command line:
// free-text search, single-reference validation, and group membership
// augmentation, against the tenants in the configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	resolver "github.com/isometry/directory-resolver"
	"github.com/isometry/directory-resolver/internal/config"
	"github.com/isometry/directory-resolver/internal/mapping"
)

var (
	cfgFile string
	kinds   string
	scope   string
	maxHits int
)

var rootCmd = &cobra.Command{
	Use:           "dirresolve",
	Short:         "Resolve users and groups across directory tenants",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var searchCmd = &cobra.Command{
	Use:   "search <input>",
	Short: "Search all tenants for entities matching free-text input",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}

		entities, err := engine.Search(cmd.Context(), args[0], parseKinds(kinds), scope, maxHits)
		if err != nil {
			return err
		}
		for _, e := range entities {
			fmt.Printf("%s\t%s\t%s\n", e.Mapping.ExternalType, e.Value, e.DisplayText)
		}
		fmt.Fprintf(os.Stderr, "%d entities\n", len(entities))
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <external-type> <value>",
	Short: "Resolve a known external reference to exactly one entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}

		entity, err := engine.Validate(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\n", entity.Mapping.ExternalType, entity.Value, entity.DisplayText)
		return nil
	},
}

var augmentCmd = &cobra.Command{
	Use:   "augment <user>",
	Short: "List the group values a user belongs to, across all tenants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}

		groups, err := engine.Augment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, g := range groups {
			fmt.Println(g)
		}
		fmt.Fprintf(os.Stderr, "%d groups\n", len(groups))
		return nil
	},
}

func buildEngine() (*resolver.Engine, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg.Resolver.LogLevel)

	set, err := cfg.MappingSet()
	if err != nil {
		return nil, fmt.Errorf("invalid mapping configuration: %w", err)
	}
	tenants, err := cfg.BuildTenants(log)
	if err != nil {
		return nil, err
	}

	flags := resolver.Flags{
		FilterExactMatchOnly:   cfg.Resolver.ExactMatchOnly,
		AlwaysResolveUserInput: cfg.Resolver.AlwaysResolveUserInput,
		MaxResults:             cfg.Resolver.MaxResults,
		Timeout:                cfg.Resolver.Timeout,
		DisplayPrefix:          cfg.Resolver.DisplayPrefix,
		PageSize:               cfg.Resolver.PageSize,
		MaxRetries:             cfg.Resolver.MaxRetries,
	}
	return resolver.New(mapping.NewProvider(set), tenants, flags, log), nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func parseKinds(raw string) []resolver.EntityKind {
	var out []resolver.EntityKind
	for _, k := range strings.Split(raw, ",") {
		switch strings.TrimSpace(k) {
		case "user":
			out = append(out, resolver.KindUser)
		case "group":
			out = append(out, resolver.KindGroup)
		}
	}
	return out
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dirresolve.yaml)")
	searchCmd.Flags().StringVar(&kinds, "kinds", "user,group", "object kinds to search (user,group)")
	searchCmd.Flags().StringVar(&scope, "scope", "", "restrict matching to one external type")
	searchCmd.Flags().IntVar(&maxHits, "max", 0, "per-tenant result cap (0 = configured default)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(augmentCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
