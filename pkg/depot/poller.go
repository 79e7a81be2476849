package depot

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher is the slice of Client the poller needs.
type Fetcher interface {
	Connect(ctx context.Context) error
	Fetch(ctx context.Context) ([]byte, string, error)
	Close() error
}

// Handler receives a fetched manifest and its checksum. It is called
// from the poller goroutine, once per new manifest version.
type Handler func(ctx context.Context, data []byte, checksum string)

// Poller fetches the depot manifest on an interval and hands new
// versions to the handler. A refetch of an unchanged manifest is
// dropped by checksum comparison.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	handler  Handler
	logger   zerolog.Logger

	lastChecksum string
}

// NewPoller creates a poller. An interval of zero or less fetches once
// and returns instead of polling.
func NewPoller(fetcher Fetcher, interval time.Duration, handler Handler, logger zerolog.Logger) *Poller {
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		handler:  handler,
		logger:   logger.With().Str("component", "depot-poller").Logger(),
	}
}

// Run polls until the context is cancelled. Fetch failures are logged
// and retried on the next interval.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)

	if p.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll performs a single fetch round.
func (p *Poller) poll(ctx context.Context) {
	if err := p.fetcher.Connect(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Depot connection failed")
		return
	}

	data, checksum, err := p.fetcher.Fetch(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Depot fetch failed")
		// The connection may be dead; reconnect next round.
		_ = p.fetcher.Close()
		return
	}

	if checksum == p.lastChecksum {
		return
	}
	p.lastChecksum = checksum

	p.logger.Info().
		Str("checksum", checksum).
		Int("bytes", len(data)).
		Msg("New manifest version fetched from depot")

	p.handler(ctx, data, checksum)
}
