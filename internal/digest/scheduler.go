package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// tick is how often the scheduler re-checks the clock.
const tick = time.Minute

var sendTimeRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// ValidateSendTime checks an "HH:MM" 24-hour send time.
func ValidateSendTime(s string) error {
	if !sendTimeRe.MatchString(s) {
		return fmt.Errorf("send_time must be HH:MM (24-hour), got %q", s)
	}
	return nil
}

// ValidateCron checks an optional cron override expression.
func ValidateCron(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// Scheduler fires the digest pipeline on the configured daily time, or
// on a cron expression when one is set. The last-sent marker is kept in
// memory only, so a restart inside the send minute may deliver twice.
type Scheduler struct {
	digests  store.DigestStore
	pipeline *Pipeline

	lastSentDate string
}

// NewScheduler wires a scheduler around a pipeline.
func NewScheduler(digests store.DigestStore, pipeline *Pipeline) *Scheduler {
	return &Scheduler{digests: digests, pipeline: pipeline}
}

// Run blocks until ctx is cancelled, checking the schedule once a
// minute.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.maybeFire(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) maybeFire(ctx context.Context, now time.Time) {
	cfg, err := s.digests.GetDigestConfig(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("load digest config", "error", err)
		}
		return
	}
	if !cfg.Enabled {
		return
	}

	today := now.Format("2006-01-02")
	if s.lastSentDate == today {
		return
	}
	if !s.due(cfg, now) {
		return
	}

	s.lastSentDate = today
	slog.Info("digest due, running pipeline", "date", today)
	if _, err := s.pipeline.Run(ctx, now); err != nil {
		if errors.Is(err, ErrNoActivity) {
			slog.Info("digest skipped, no recent activity")
			return
		}
		slog.Error("digest run failed", "error", err)
	}
}

func (s *Scheduler) due(cfg *store.DigestConfig, now time.Time) bool {
	if cfg.Cron != "" {
		due, err := gronx.New().IsDue(cfg.Cron, now)
		if err != nil {
			slog.Warn("bad cron expression in digest config", "cron", cfg.Cron, "error", err)
			return false
		}
		return due
	}

	m := sendTimeRe.FindStringSubmatch(cfg.SendTime)
	if m == nil {
		return false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	return now.Hour() == h && now.Minute() == min
}
