package realtime

import (
	"context"
	"time"

	"github.com/xtrntr/powermarket/internal/models"
	"go.uber.org/zap"
)

// WindowSource returns the current submission window, or nil if none is configured
type WindowSource interface {
	Get(ctx context.Context) (*models.SubmissionWindow, error)
}

// Countdown pushes the remaining submission time to countdown clients.
//
// Each connection runs its own loop. Every tick re-reads the window, so an
// administrative change reaches every connected client on its next tick.
// States:
//
//	unconfigured  no window record; reported each tick, keeps polling
//	invalid       close_time before open_time; reported each tick, keeps polling
//	open          now before close_time; reports remaining seconds
//	closed        terminal; reported once, then the loop ends
type Countdown struct {
	windows  WindowSource
	registry *Registry
	interval time.Duration
	now      func() time.Time
	logger   *zap.SugaredLogger
}

func NewCountdown(windows WindowSource, registry *Registry, interval time.Duration, logger *zap.SugaredLogger) *Countdown {
	return &Countdown{
		windows:  windows,
		registry: registry,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Status computes the message for window at instant now
func Status(window *models.SubmissionWindow, now time.Time) models.CountdownStatus {
	if window == nil {
		return models.CountdownStatus{Status: models.CountdownUnconfigured}
	}

	closeTime := window.CloseTime
	if !window.Valid() {
		return models.CountdownStatus{Status: models.CountdownInvalid, CloseTime: &closeTime}
	}

	remaining := closeTime.Sub(now).Seconds()
	if remaining <= 0 {
		return models.CountdownStatus{Remaining: 0, Status: models.CountdownClosed, CloseTime: &closeTime}
	}
	return models.CountdownStatus{Remaining: remaining, Status: models.CountdownOpen, CloseTime: &closeTime}
}

// Run drives the countdown for c until the window closes, a send fails or
// ctx is canceled. It returns nil only after the closed status was delivered.
// The connection is left open either way.
func (cd *Countdown) Run(ctx context.Context, c Conn) error {
	ticker := time.NewTicker(cd.interval)
	defer ticker.Stop()

	for {
		state, err := cd.tick(ctx, c)
		if err != nil {
			return err
		}
		if state == models.CountdownClosed {
			cd.logger.Debugw("countdown finished", "conn", c.ID())
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (cd *Countdown) tick(ctx context.Context, c Conn) (models.CountdownState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	window, err := cd.windows.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Skip this tick and retry on the next one
		cd.logger.Warnw("countdown could not read submission window", "conn", c.ID(), "error", err)
		return "", nil
	}

	status := Status(window, cd.now())
	if err := cd.registry.SendJSON(c, status); err != nil {
		return "", err
	}
	return status.Status, nil
}
