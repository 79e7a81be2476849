package stores

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/state"
)

// Observer returns a state observer that mirrors every recorded transition
// into the cache: the transition is appended to the journal and the entry
// the store now holds is upserted. A transition to removed deletes the
// cached entry instead, matching the store dropping it after the engine
// confirmed removal. Cache failures are logged and swallowed; the in-memory
// store stays authoritative.
func Observer(cache StateCache, store *state.Store, logger zerolog.Logger) state.Observer {
	logger = logger.With().Str("component", "statecache").Logger()

	return func(tr state.Transition) {
		ctx := context.Background()

		if err := cache.AppendTransition(ctx, tr); err != nil {
			logger.Warn().Err(err).
				Str("resource_id", string(tr.ID)).
				Msg("State cache journal append failed")
		}

		if tr.To == state.LifecycleRemoved {
			if err := cache.DeleteEntry(ctx, tr.ID); err != nil {
				logger.Warn().Err(err).
					Str("resource_id", string(tr.ID)).
					Msg("State cache entry delete failed")
			}
			return
		}

		entry, ok := store.Get(tr.ID)
		if !ok {
			return
		}
		if err := cache.SaveEntry(ctx, entry); err != nil {
			logger.Warn().Err(err).
				Str("resource_id", string(tr.ID)).
				Msg("State cache entry update failed")
		}
	}
}
