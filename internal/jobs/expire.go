package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

type ExpireGiftCardsArgs struct{}

func (ExpireGiftCardsArgs) Kind() string { return "expire_gift_cards" }

type GiftCardExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type ExpireGiftCardsWorker struct {
	river.WorkerDefaults[ExpireGiftCardsArgs]
	cards  GiftCardExpirer
	logger *slog.Logger
	now    func() time.Time
}

func NewExpireGiftCardsWorker(cards GiftCardExpirer, logger *slog.Logger) *ExpireGiftCardsWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpireGiftCardsWorker{cards: cards, logger: logger, now: time.Now}
}

func (w *ExpireGiftCardsWorker) Work(ctx context.Context, _ *river.Job[ExpireGiftCardsArgs]) error {
	n, err := w.cards.ExpireStale(ctx, w.now().UTC())
	if err != nil {
		return err
	}
	w.logger.DebugContext(ctx, "gift card expiry sweep finished", "expired", n)
	return nil
}

// PeriodicJobs schedules the expiry sweep every interval, starting at boot.
func PeriodicJobs(interval time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ExpireGiftCardsArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

// NewWorkers registers every worker this service runs.
func NewWorkers(l Crediter, cards GiftCardExpirer, logger *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewRefundOrderWorker(l, logger))
	river.AddWorker(workers, NewExpireGiftCardsWorker(cards, logger))
	return workers
}
