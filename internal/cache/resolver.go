package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/caltechlibrary/documentarist/internal/logger"
)

// FetchFunc performs the actual external service call on a cache miss and
// returns the serialized response.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Resolver answers service call requests from the store when it can and
// performs at most one live call per fingerprint otherwise. Concurrent
// requests for the same fingerprint share a single in-flight call.
type Resolver struct {
	store  Store
	bypass bool
	group  singleflight.Group
	log    zerolog.Logger
}

// NewResolver creates a resolver over the given store. With bypass set,
// lookups are skipped and every request goes to the service; responses are
// still stored, and concurrent identical requests still share one call.
func NewResolver(store Store, bypass bool) *Resolver {
	return &Resolver{
		store:  store,
		bypass: bypass,
		log:    logger.WithComponent("cache"),
	}
}

type resolution struct {
	entry Entry
	hit   bool
}

// Do resolves one service call. On a hit the stored entry is returned and
// fetch is never invoked. On a miss, fetch runs under the context of the
// caller that initiated it; the response is stored before being returned.
// The returned bool reports whether the entry came from the cache.
//
// Store failures and inconsistent entries are returned as errors; callers
// must treat them as fatal for the run rather than fall through to repeated
// paid calls against an untrustworthy cache.
func (r *Resolver) Do(ctx context.Context, key Key, fetch FetchFunc) (Entry, bool, error) {
	fp := key.Fingerprint()

	v, err, shared := r.group.Do(fp, func() (interface{}, error) {
		if !r.bypass {
			entry, found, err := r.store.Lookup(ctx, key)
			if err != nil {
				return nil, err
			}
			if found {
				r.log.Debug().
					Str("service", key.Service).
					Str("fingerprint", fp).
					Msg("Cache hit")
				return resolution{entry: entry, hit: true}, nil
			}
		}

		r.log.Debug().
			Str("service", key.Service).
			Str("fingerprint", fp).
			Bool("bypass", r.bypass).
			Msg("Cache miss, calling service")

		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		entry := Entry{Payload: payload, CreatedAt: time.Now().UTC()}
		if err := r.store.Store(ctx, key, entry); err != nil {
			return nil, err
		}
		return resolution{entry: entry}, nil
	})
	if err != nil {
		return Entry{}, false, err
	}

	res := v.(resolution)
	if shared {
		r.log.Debug().
			Str("service", key.Service).
			Str("fingerprint", fp).
			Msg("Shared in-flight service call")
	}
	return res.entry, res.hit, nil
}
