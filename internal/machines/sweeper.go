package machines

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/greenops-hq/greenops-server/internal/db"
	"github.com/greenops-hq/greenops-server/internal/metrics"
)

// commandGraceWindow is how long an enqueued command may sit unclaimed
// before the sweeper declares it undeliverable.
const commandGraceWindow = 5 * time.Minute

// Sweeper is the background offline-detection task. Exactly one instance
// runs per logical server. Each tick demotes silent machines to offline
// and expires pending commands past the grace window; both operations are
// idempotent, so overlapping or repeated sweeps are harmless.
type Sweeper struct {
	store  Store
	pool   *db.Pool
	config Config
	now    func() time.Time
}

func NewSweeper(store Store, pool *db.Pool, config Config) *Sweeper {
	return &Sweeper{
		store:  store,
		pool:   pool,
		config: config,
		now:    time.Now,
	}
}

// Run sweeps immediately, then on a fixed interval until ctx is cancelled.
// Errors are contained: the sweeper logs, optionally reinitializes the
// pool after a connectivity loss, and tries again next tick. It never
// terminates the process.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.config.OfflineCheckIntervalSeconds) * time.Second
	slog.Info("Offline sweeper started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)

		select {
		case <-ctx.Done():
			slog.Info("Offline sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs a single tick. Exported so tests and operational tooling can
// drive it directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := s.now().UTC()

	staleCutoff := now.Add(-time.Duration(s.config.HeartbeatTimeoutSeconds) * time.Second)
	demoted, err := s.store.MarkStaleOffline(ctx, staleCutoff)
	if err != nil {
		s.handleSweepError(ctx, err)
		return
	}
	if demoted > 0 {
		metrics.MachinesMarkedOffline.Add(float64(demoted))
		slog.Info("Machines marked offline", "count", demoted)
	}

	expired, err := s.store.ExpireStaleCommands(ctx, now.Add(-commandGraceWindow))
	if err != nil {
		s.handleSweepError(ctx, err)
		return
	}
	if expired > 0 {
		metrics.CommandsExpired.Add(float64(expired))
		slog.Info("Stale pending commands expired", "count", expired)
	}
}

func (s *Sweeper) handleSweepError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	if isConnectivityError(err) && s.pool != nil {
		slog.Error("Sweeper lost database connectivity, reinitializing pool", "error", err)
		if initErr := s.pool.Initialize(ctx); initErr != nil {
			slog.Error("Sweeper pool reinitialization failed, will retry next tick", "error", initErr)
		} else {
			slog.Info("Sweeper reconnected to database")
		}
		return
	}

	slog.Error("Sweep failed, will retry next tick", "error", err)
}

func isConnectivityError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, db.ErrNotInitialized)
}
