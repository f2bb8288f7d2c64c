package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/office-hours-scheduling/internal/metrics"
)

// Relay moves notifications from the outbox to a Publisher. Delivery is
// at-least-once: a row is marked only after Publish succeeds.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	batchSize int
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewRelay(outbox Outbox, publisher Publisher, batchSize int, m *metrics.Metrics, logger zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger.With().Str("component", "notify_relay").Logger(),
	}
}

// RunOnce drains outbox batches until a batch comes back short or ctx ends.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		delivered, failed, err := r.outbox.Claim(ctx, r.batchSize, r.deliver)
		total += delivered
		if err != nil {
			return total, fmt.Errorf("relay outbox: %w", err)
		}
		if failed > 0 || delivered < r.batchSize {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (r *Relay) deliver(ctx context.Context, rec Record) error {
	if err := r.publisher.Publish(ctx, rec.Notification); err != nil {
		r.metrics.IncRelay("failed")
		r.logger.Error().
			Err(err).
			Int64("outbox_id", rec.ID).
			Str("user_id", rec.UserID.String()).
			Str("type", string(rec.Type)).
			Msg("publish notification failed")
		return err
	}
	r.metrics.IncRelay("delivered")
	return nil
}

// Run calls RunOnce immediately and then every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutdown signal received, stopping notification relay")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := r.RunOnce(runCtx)
	if err != nil {
		r.logger.Error().Err(err).Int("delivered", n).Msg("relay run error")
		return
	}
	if n > 0 {
		r.logger.Info().Int("delivered", n).Dur("took", time.Since(start)).Msg("relay run complete")
	}
}
