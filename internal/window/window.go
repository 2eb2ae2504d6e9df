package window

import (
	"context"
	"time"

	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/models"
	"go.uber.org/zap"
)

// Repository is the durable home of the single window record. Every write
// is stamped with a version higher than any earlier committed write.
type Repository interface {
	UpsertWindow(ctx context.Context, openTime, closeTime time.Time) (*models.SubmissionWindow, error)
	GetWindow(ctx context.Context) (*models.SubmissionWindow, error)
	ResetWindow(ctx context.Context, now time.Time) (*models.SubmissionWindow, error)
	// DeleteWindow returns the version of the deletion
	DeleteWindow(ctx context.Context) (int64, error)
}

// Cache holds the last known window so countdown ticks don't each hit the
// database. A nil window is a cached "not configured".
type Cache interface {
	// Get reports hit=false on a miss
	Get(ctx context.Context) (window *models.SubmissionWindow, hit bool, err error)
	// Store writes window at version unless the cache already holds the same
	// or a newer version, so a slow writer or reader cannot restore an older window
	Store(ctx context.Context, version int64, window *models.SubmissionWindow) (bool, error)
	// Invalidate drops the cached value
	Invalidate(ctx context.Context) error
}

// Service is the submission window store. All mutations go through a
// single-record upsert so there is never more than one current window.
type Service struct {
	repo   Repository
	cache  Cache
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewService creates a window service. cache may be nil.
func NewService(repo Repository, cache Cache, logger *zap.SugaredLogger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Set creates the window or replaces its times
func (s *Service) Set(ctx context.Context, openTime, closeTime time.Time) (*models.SubmissionWindow, error) {
	if openTime.IsZero() || closeTime.IsZero() {
		return nil, apperr.Validation("open_time and close_time are required")
	}
	if closeTime.Before(openTime) {
		return nil, apperr.Validation("close_time must not be before open_time")
	}

	window, err := s.repo.UpsertWindow(ctx, openTime.UTC(), closeTime.UTC())
	if err != nil {
		return nil, err
	}
	s.store(ctx, window.Version, window)
	return window, nil
}

// Get returns the current window, or nil if it was never set
func (s *Service) Get(ctx context.Context) (*models.SubmissionWindow, error) {
	if s.cache != nil {
		window, hit, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.Warnw("window cache read failed", "error", err)
		} else if hit {
			return window, nil
		}
	}

	window, err := s.repo.GetWindow(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		// Absence is filled at version 0, which any committed write supersedes
		var version int64
		if window != nil {
			version = window.Version
		}
		if _, err := s.cache.Store(ctx, version, window); err != nil {
			s.logger.Warnw("window cache fill failed", "error", err)
		}
	}
	return window, nil
}

// List returns the window as a sequence of zero or one records
func (s *Service) List(ctx context.Context) ([]models.SubmissionWindow, error) {
	window, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if window == nil {
		return []models.SubmissionWindow{}, nil
	}
	return []models.SubmissionWindow{*window}, nil
}

// Reset collapses the window to the current instant. It returns nil without
// error if no window exists.
func (s *Service) Reset(ctx context.Context) (*models.SubmissionWindow, error) {
	window, err := s.repo.ResetWindow(ctx, s.now())
	if err != nil {
		return nil, err
	}
	if window != nil {
		s.store(ctx, window.Version, window)
	}
	return window, nil
}

// Delete removes the window. Deleting an absent window is not an error.
func (s *Service) Delete(ctx context.Context) error {
	version, err := s.repo.DeleteWindow(ctx)
	if err != nil {
		return err
	}
	s.store(ctx, version, nil)
	return nil
}

func (s *Service) store(ctx context.Context, version int64, window *models.SubmissionWindow) {
	if s.cache == nil {
		return
	}
	written, err := s.cache.Store(ctx, version, window)
	if err != nil {
		s.logger.Warnw("window cache write failed, invalidating", "version", version, "error", err)
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Errorw("window cache invalidation failed", "error", err)
		}
		return
	}
	if !written {
		s.logger.Debugw("window cache already holds a newer write", "version", version)
	}
}
