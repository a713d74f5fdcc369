package cache

import (
	"context"
	"log/slog"
	"time"

	"freightwatch/internal/domain"
)

// Writer decouples the simulation tick from Redis round-trips: the engine
// hands samples and alerts off through buffered channels and a single
// goroutine performs the writes. When the buffers are full entries are
// dropped; the cache holds latest-wins data only.
type Writer struct {
	cache   *RedisCache
	samples chan domain.GPSSample
	alerts  chan domain.Alert
	logger  *slog.Logger
}

func NewWriter(cache *RedisCache, logger *slog.Logger) *Writer {
	return &Writer{
		cache:   cache,
		samples: make(chan domain.GPSSample, 1024),
		alerts:  make(chan domain.Alert, 256),
		logger:  logger.With("component", "cache_writer"),
	}
}

func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case sample := <-w.samples:
			writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := w.cache.SetJSON(writeCtx, KeyLastPosition(sample.EntityID), sample); err != nil {
				w.logger.Debug("dropping position write", "entity_id", sample.EntityID, "error", err)
			}
			cancel()

		case a := <-w.alerts:
			writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := w.cache.PushRecent(writeCtx, KeyAlertFeed, a, AlertFeedMax); err != nil {
				w.logger.Debug("dropping alert write", "alert_id", a.ID, "error", err)
			}
			cancel()
		}
	}
}

// OfferSample never blocks the caller
func (w *Writer) OfferSample(sample domain.GPSSample) {
	select {
	case w.samples <- sample:
	default:
	}
}

// OfferAlert never blocks the caller
func (w *Writer) OfferAlert(a domain.Alert) {
	select {
	case w.alerts <- a:
	default:
	}
}
