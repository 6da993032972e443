// Package executor fans a built query out to every configured tenant
// concurrently and collects raw directory objects, tolerating
// per-tenant failure.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/isometry/directory-resolver/internal/directory"
	"github.com/isometry/directory-resolver/internal/filter"
)

// Options bound each tenant's unit of work.
type Options struct {
	// Timeout caps one tenant's whole unit of work, pagination
	// included. An expired tenant contributes nothing; its siblings
	// are unaffected.
	Timeout time.Duration

	// MaxResults caps the objects collected per tenant.
	MaxResults int

	// PageSize is the backend page size requested while paging.
	PageSize int

	// Retry settings for retryable backend failures.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 30
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 2 * time.Second
	}
	if o.BackoffFactor <= 1 {
		o.BackoffFactor = 2.0
	}
	return o
}

// Execute runs every tenant's queries concurrently and concatenates the
// non-empty contributions in tenant configuration order. Backend
// failures and timeouts are logged and yield an empty contribution for
// that tenant only; Execute itself never fails.
func Execute(ctx context.Context, queries []filter.TenantQuery, opts Options) []directory.Object {
	opts = opts.withDefaults()

	perTenant := make([][]directory.Object, len(queries))
	var g errgroup.Group
	for i, tq := range queries {
		i, tq := i, tq
		g.Go(func() error {
			perTenant[i] = runTenant(ctx, tq, opts)
			return nil
		})
	}
	_ = g.Wait()

	var merged []directory.Object
	for _, objs := range perTenant {
		merged = append(merged, objs...)
	}
	return merged
}

// runTenant executes one tenant's unit of work under its own deadline.
// Both sub-queries present means one batched round trip.
func runTenant(ctx context.Context, tq filter.TenantQuery, opts Options) []directory.Object {
	var queries []directory.Query
	for _, q := range []directory.Query{tq.User, tq.Group} {
		if q.Filter == "" {
			continue
		}
		q.PageSize = opts.PageSize
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	log := opts.Logger.With().Str("tenant", tq.Tenant.Name).Logger()

	var collected []directory.Object
	if len(queries) > 1 {
		collected = runBatch(tctx, tq.Tenant, queries, opts, log)
	} else {
		collected = runSingle(tctx, tq.Tenant, queries[0], opts, log)
	}

	log.Debug().
		Int("objects", len(collected)).
		Dur("elapsed", time.Since(start)).
		Msg("tenant query completed")
	return collected
}

func runBatch(ctx context.Context, tenant *directory.Tenant, queries []directory.Query, opts Options, log zerolog.Logger) []directory.Object {
	var results []directory.BatchResult
	err := withRetry(ctx, opts, func() error {
		var qErr error
		results, qErr = tenant.Backend.QueryBatch(ctx, queries)
		return qErr
	})
	if err != nil {
		log.Warn().Err(err).Msg("batched tenant query failed, contributing no results")
		return nil
	}

	var collected []directory.Object
	for _, res := range results {
		if res.Err != nil {
			log.Warn().Err(res.Err).
				Stringer("kind", res.Query.Kind).
				Msg("batch sub-request failed, skipping kind")
			continue
		}
		collected = append(collected, drainPager(ctx, res.Pager, tenant, opts.MaxResults-len(collected), log)...)
	}
	return collected
}

func runSingle(ctx context.Context, tenant *directory.Tenant, q directory.Query, opts Options, log zerolog.Logger) []directory.Object {
	var pager directory.Pager
	err := withRetry(ctx, opts, func() error {
		var qErr error
		pager, qErr = tenant.Backend.Query(ctx, q)
		return qErr
	})
	if err != nil {
		log.Warn().Err(err).
			Stringer("kind", q.Kind).
			Msg("tenant query failed, contributing no results")
		return nil
	}
	return drainPager(ctx, pager, tenant, opts.MaxResults, log)
}

// drainPager pages through results until the cap is reached, pages run
// out, or the tenant's deadline fires. Subtype and security-group
// exclusions are applied per page so excluded objects never count
// against the cap.
func drainPager(ctx context.Context, pager directory.Pager, tenant *directory.Tenant, limit int, log zerolog.Logger) []directory.Object {
	defer pager.Close()
	if limit <= 0 {
		return nil
	}

	var collected []directory.Object
	for {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("pagination cancelled")
			return collected
		}
		page, more, err := pager.Next(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("pagination failed, keeping partial results")
			return collected
		}
		for _, obj := range page {
			if !keep(&obj, tenant) {
				continue
			}
			collected = append(collected, obj)
			if len(collected) >= limit {
				return collected
			}
		}
		if !more {
			return collected
		}
	}
}

func keep(obj *directory.Object, tenant *directory.Tenant) bool {
	switch obj.Kind {
	case directory.KindUser:
		if tenant.ExcludeGuests && obj.Subtype == directory.SubtypeGuest {
			return false
		}
		if tenant.ExcludeMembers && obj.Subtype == directory.SubtypeMember {
			return false
		}
	case directory.KindGroup:
		if tenant.SecurityGroupsOnly && !obj.SecurityEnabled {
			return false
		}
	}
	return true
}

// withRetry retries retryable failures with exponential backoff.
// Terminal failures (bad credentials, malformed filters) return on the
// first attempt.
func withRetry(ctx context.Context, opts Options, operation func() error) error {
	var lastErr error
	backoff := opts.InitialBackoff

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !directory.IsRetryable(err) || attempt == opts.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*opts.BackoffFactor), opts.MaxBackoff)
		}
	}
	return lastErr
}
