package maintenance

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"keymesh/internal/domain"
)

// Config controls the maintenance schedule.
type Config struct {
	Interval           time.Duration
	SignedPreKeyMaxAge time.Duration
	SignedPreKeyGrace  time.Duration
	ReplenishThreshold int
}

// Runner periodically rotates the signed prekey, reaps expired records,
// replenishes the one-time prekey pool, and republishes the bundle. Each
// step logs and continues on failure; a broken directory must not stop
// local rotation.
type Runner struct {
	keys      domain.KeyGenerator
	directory domain.Directory

	userID   string
	deviceID uint32
	cfg      Config
	logger   *logrus.Logger
}

// New wires a Runner.
func New(keys domain.KeyGenerator, dir domain.Directory, userID string, deviceID uint32, cfg Config, logger *logrus.Logger) *Runner {
	return &Runner{
		keys:      keys,
		directory: dir,
		userID:    userID,
		deviceID:  deviceID,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled, performing one pass immediately and then
// one per interval.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single maintenance pass.
func (r *Runner) RunOnce(ctx context.Context) {
	republish := false

	due, err := r.keys.ShouldRotateSignedPreKey(r.cfg.SignedPreKeyMaxAge)
	if err != nil {
		r.logger.WithError(err).Error("signed prekey age check failed")
	} else if due {
		if _, err := r.keys.RotateSignedPreKey(ctx); err != nil {
			r.logger.WithError(err).Error("signed prekey rotation failed")
		} else {
			republish = true
		}
	}

	if n, err := r.keys.DeleteExpiredSignedPreKeys(r.cfg.SignedPreKeyGrace); err != nil {
		r.logger.WithError(err).Error("expired signed prekey cleanup failed")
	} else if n > 0 {
		r.logger.WithField("deleted", n).Info("expired signed prekeys removed")
	}

	status, err := r.directory.CheckPreKeyStatus(ctx, r.userID, r.deviceID)
	if err != nil {
		r.logger.WithError(err).Warn("prekey status check failed")
	} else if status.NeedsReplenishment {
		if _, err := r.keys.ReplenishPreKeys(ctx, status.Remaining, r.cfg.ReplenishThreshold); err != nil {
			r.logger.WithError(err).Error("prekey replenishment failed")
		} else {
			republish = true
		}
	}

	if republish {
		if err := r.publish(ctx); err != nil {
			r.logger.WithError(err).Error("bundle republish failed")
		}
	}
}

// publish uploads the bundle plus any prekeys not yet offered, then moves
// the offered watermark so the same ids are never uploaded again.
func (r *Runner) publish(ctx context.Context) error {
	bundle, fresh, err := r.keys.GenerateInitialKeyBundle(ctx)
	if err != nil {
		return err
	}
	if err := r.directory.Publish(ctx, bundle, fresh); err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil
	}
	return r.keys.MarkPreKeysOffered(fresh[len(fresh)-1].ID)
}
