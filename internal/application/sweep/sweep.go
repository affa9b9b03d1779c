package sweep

import (
	"context"
	"time"

	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
)

// retentionDays is how long a completed experiment is kept before the daily
// pass archives it.
const retentionDays = 90

// pageSize is the batch size used when scanning experiments.
const pageSize = 100

const (
	// DefaultCompletionInterval is the default cadence of the auto-completion
	// pass.
	DefaultCompletionInterval = time.Hour
	// DefaultArchiveInterval is the default cadence of the archive and
	// summary passes.
	DefaultArchiveInterval = 24 * time.Hour
)

// Sweeper drives experiment lifecycle maintenance.  It assumes a single
// running instance; there is no cross-process coordination.
type Sweeper struct {
	svc                *experiment.Service
	notifier           experiment.Notifier
	log                logging.Logger
	now                func() time.Time
	completionInterval time.Duration
	archiveInterval    time.Duration
}

// Option configures optional Sweeper collaborators.
type Option func(*Sweeper)

// WithClock overrides the sweeper's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithNotifier attaches the summary notification channel.
func WithNotifier(n experiment.Notifier) Option {
	return func(s *Sweeper) { s.notifier = n }
}

// WithIntervals overrides the pass cadences.  Non-positive values keep the
// defaults.
func WithIntervals(completion, archive time.Duration) Option {
	return func(s *Sweeper) {
		if completion > 0 {
			s.completionInterval = completion
		}
		if archive > 0 {
			s.archiveInterval = archive
		}
	}
}

// New constructs a Sweeper on top of the experiment service.
func New(svc *experiment.Service, log logging.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		svc:                svc,
		notifier:           experiment.NopNotifier{},
		log:                log,
		now:                func() time.Time { return time.Now().UTC() },
		completionInterval: DefaultCompletionInterval,
		archiveInterval:    DefaultArchiveInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run registers the three maintenance cadences on the clock and returns.
// Cancellation of ctx stops all of them.
func (s *Sweeper) Run(ctx context.Context, clock Clock) {
	clock.Every(ctx, s.completionInterval, s.CompletionPass)
	clock.Every(ctx, s.archiveInterval, s.ArchivePass)
	clock.Every(ctx, s.archiveInterval, s.SummaryPass)
	s.log.Info("sweep schedules registered",
		logging.Duration("completion_interval", s.completionInterval),
		logging.Duration("archive_interval", s.archiveInterval))
}

// forEach pages through experiments in the given state and invokes fn per
// experiment.  fn reports whether it moved the experiment out of that state;
// such rows drop out of the filtered listing and shift the remainder down, so
// the offset advances only past the rows that still match.  fn errors are
// logged and never stop the scan.
func (s *Sweeper) forEach(ctx context.Context, status experiment.Status, op string, fn func(*experiment.Experiment) (bool, error)) {
	offset := 0
	for {
		page, _, err := s.svc.List(ctx,
			experiment.WithStatus(status),
			experiment.WithLimit(pageSize),
			experiment.WithOffset(offset))
		if err != nil {
			s.log.Error("sweep listing failed",
				logging.String("op", op),
				logging.String("status", string(status)),
				logging.Err(err))
			return
		}
		removed := 0
		for _, exp := range page {
			changed, err := fn(exp)
			if err != nil {
				s.log.Error("sweep item failed",
					logging.String("op", op),
					logging.String("experiment_id", exp.ID),
					logging.Err(err))
				continue
			}
			if changed {
				removed++
			}
		}
		if len(page) < pageSize {
			return
		}
		offset += len(page) - removed
	}
}

// CompletionPass is the hourly pass: running experiments with automatic
// winner selection are completed when their end date has passed, or as soon
// as the winner decision engine reports a verdict.
func (s *Sweeper) CompletionPass(ctx context.Context) {
	now := s.now()
	completed := 0
	s.forEach(ctx, experiment.StatusRunning, "completion", func(exp *experiment.Experiment) (bool, error) {
		if !exp.AutoSelectWinner {
			return false, nil
		}

		if exp.EndDate != nil && exp.EndDate.Before(now) {
			// Past its end date: force completion with whatever winner
			// the engine currently computes, possibly none.
			if _, err := s.svc.Complete(ctx, exp.ID, nil); err != nil {
				return false, err
			}
			completed++
			return true, nil
		}

		decision := s.svc.Evaluate(exp)
		if !decision.HasWinner {
			return false, nil
		}
		if _, err := s.svc.Complete(ctx, exp.ID, &decision.WinnerID); err != nil {
			return false, err
		}
		completed++
		return true, nil
	})
	if completed > 0 {
		s.log.Info("completion pass finished", logging.Int("completed", completed))
	}
}

// ArchivePass is the daily pass: completed experiments whose end date is
// older than the retention window move to archived.  Experiments without an
// end date are never archived.
func (s *Sweeper) ArchivePass(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	archived := 0
	s.forEach(ctx, experiment.StatusCompleted, "archive", func(exp *experiment.Experiment) (bool, error) {
		if exp.EndDate == nil || !exp.EndDate.Before(cutoff) {
			return false, nil
		}
		if _, err := s.svc.Archive(ctx, exp.ID); err != nil {
			return false, err
		}
		archived++
		return true, nil
	})
	if archived > 0 {
		s.log.Info("archive pass finished", logging.Int("archived", archived))
	}
}

// SummaryPass is the daily read-only pass: one digest per running
// experiment is published to the notifier.  Nothing is mutated.
func (s *Sweeper) SummaryPass(ctx context.Context) {
	now := s.now()
	s.forEach(ctx, experiment.StatusRunning, "summary", func(exp *experiment.Experiment) (bool, error) {
		var impressions, conversions int64
		for _, v := range exp.Variants {
			impressions += v.Impressions
			conversions += v.Conversions
		}
		decision := s.svc.Evaluate(exp)

		return false, s.notifier.PublishSummary(ctx, experiment.Summary{
			ExperimentID:     exp.ID,
			Name:             exp.Name,
			Status:           exp.Status,
			TotalImpressions: impressions,
			TotalConversions: conversions,
			HasWinner:        decision.HasWinner,
			WinnerName:       decision.WinnerName,
			GeneratedAt:      now,
		})
	})
}
