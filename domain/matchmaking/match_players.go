package matchmaking

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"github.com/sourcegraph/conc/pool"
)

type MatchPlayerUseCaseConfig struct {
	Venues        []string
	MaxRatingDiff int
	// Concurrency bounds how many venues are scanned at once; 0 means one per venue.
	Concurrency int
	Logger      *slog.Logger
}

type MatchPlayersUseCase struct {
	coord    *coordination.Store
	expirer  *Expirer
	promoter *Promoter
	rules    CompatibilityRules
	cfg      MatchPlayerUseCaseConfig
	logger   *slog.Logger
	running  atomic.Bool
}

func NewMatchPlayersUseCase(requests store.SearchRequests, coord *coordination.Store, notifier notify.Notifier, config MatchPlayerUseCaseConfig) *MatchPlayersUseCase {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxRatingDiff == 0 {
		config.MaxRatingDiff = DefaultMaxRatingDiff
	}
	return &MatchPlayersUseCase{
		coord:    coord,
		expirer:  NewExpirer(requests, coord, notifier, logger),
		promoter: NewPromoter(requests, coord, notifier, logger),
		rules:    CompatibilityRules{MaxRatingDiff: config.MaxRatingDiff},
		cfg:      config,
		logger:   logger,
	}
}

type PromotedPair struct {
	Venue      string
	RequestID  string
	OpponentID string
}

type MatchPlayersOutput struct {
	Promoted []PromotedPair
	Expired  []string
	// Skipped is set when a previous tick was still running in this process.
	Skipped bool
}

// MatchPlayers runs one scan over every venue queue. Overlapping calls in the
// same process are skipped, not queued; across processes the MatchLocks keep
// a request from being evaluated twice.
func (m *MatchPlayersUseCase) MatchPlayers(ctx context.Context) (MatchPlayersOutput, error) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Debug("previous matching tick still running, skipping")
		return MatchPlayersOutput{Skipped: true}, nil
	}
	defer m.running.Store(false)

	var (
		mu  sync.Mutex
		out MatchPlayersOutput
	)
	workers := m.cfg.Concurrency
	if workers <= 0 {
		workers = len(m.cfg.Venues)
	}
	p := pool.New().WithMaxGoroutines(max(workers, 1)).WithErrors()
	for _, venue := range m.cfg.Venues {
		p.Go(func() error {
			result, err := m.matchVenue(ctx, venue)
			mu.Lock()
			out.Promoted = append(out.Promoted, result.Promoted...)
			out.Expired = append(out.Expired, result.Expired...)
			mu.Unlock()
			if err != nil {
				m.logger.Error("error in match engine for venue", "venue", venue, "error", err)
			}
			return err
		})
	}
	err := p.Wait()
	return out, err
}

// Tick is the scheduler entry point; errors are already logged per venue.
func (m *MatchPlayersUseCase) Tick(ctx context.Context) {
	out, _ := m.MatchPlayers(ctx)
	if len(out.Promoted) > 0 || len(out.Expired) > 0 {
		m.logger.Info("matching tick finished", "promoted", len(out.Promoted), "expired", len(out.Expired))
	}
}

// matchVenue greedily pairs each queued request with the first later
// compatible one. Errors scoped to one candidate are logged and the scan
// moves on; only a failure to read the queue aborts the venue.
func (m *MatchPlayersUseCase) matchVenue(ctx context.Context, venue string) (MatchPlayersOutput, error) {
	var out MatchPlayersOutput

	ids, err := m.coord.Queue(ctx, venue)
	if err != nil {
		return out, err
	}

	// Ids promoted or removed earlier in this pass.
	done := map[string]bool{}

	// available sweeps an id for expiry and reports whether it is still
	// actively searching.
	available := func(id string) bool {
		if done[id] {
			return false
		}
		result, err := m.expirer.Sweep(ctx, venue, id)
		if err != nil {
			m.logger.Warn("expiry check failed", "venue", venue, "request_id", id, "error", err)
			return false
		}
		if result != SweepKept {
			done[id] = true
			if result == SweepExpired {
				out.Expired = append(out.Expired, id)
			}
			return false
		}
		live, err := m.coord.IsLive(ctx, id)
		if err != nil {
			m.logger.Warn("liveness check failed", "venue", venue, "request_id", id, "error", err)
			return false
		}
		return live
	}

	for i, idA := range ids {
		if !available(idA) {
			continue
		}
		a, lockA, ok := m.lockSnapshot(ctx, venue, idA)
		if !ok {
			continue
		}

		settled := false
		for _, idB := range ids[i+1:] {
			if !available(idB) {
				continue
			}
			b, lockB, ok := m.lockSnapshot(ctx, venue, idB)
			if !ok {
				continue
			}

			if !m.pairable(ctx, a, b) {
				m.unlock(ctx, lockB)
				continue
			}

			err := func() error {
				defer m.unlock(ctx, lockA)
				defer m.unlock(ctx, lockB)
				return m.promoter.Promote(ctx, a, b)
			}()
			if err != nil {
				m.logger.Error("promotion failed", "venue", venue, "request_id", idA, "opponent_id", idB, "error", err)
			} else {
				done[idA], done[idB] = true, true
				out.Promoted = append(out.Promoted, PromotedPair{Venue: venue, RequestID: idA, OpponentID: idB})
			}
			settled = true
			break
		}

		if !settled {
			m.unlock(ctx, lockA)
		}
	}
	return out, nil
}

// lockSnapshot takes the MatchLock for id and reloads its snapshot. It
// returns ok=false, holding nothing, if the lock is contended or the
// snapshot vanished.
func (m *MatchPlayersUseCase) lockSnapshot(ctx context.Context, venue, id string) (entities.RequestSnapshot, *coordination.Lock, bool) {
	lock, ok, err := m.coord.TryLock(ctx, id)
	if err != nil {
		m.logger.Warn("lock failed", "venue", venue, "request_id", id, "error", err)
		return entities.RequestSnapshot{}, nil, false
	}
	if !ok {
		return entities.RequestSnapshot{}, nil, false
	}

	snap, found, err := m.coord.Snapshot(ctx, id)
	if err != nil || !found {
		if err != nil {
			m.logger.Warn("snapshot unreadable", "venue", venue, "request_id", id, "error", err)
		}
		m.unlock(ctx, lock)
		return entities.RequestSnapshot{}, nil, false
	}
	return snap, lock, true
}

// pairable applies the compatibility predicate, then the cool-down left by a
// recent decline between the same two requests.
func (m *MatchPlayersUseCase) pairable(ctx context.Context, a, b entities.RequestSnapshot) bool {
	if !Compatible(a, b, m.rules) {
		return false
	}
	cooling, err := m.coord.CoolingDown(ctx, a.RequestID, b.RequestID)
	if err != nil {
		m.logger.Warn("cool-down check failed", "venue", a.Venue, "request_id", a.RequestID, "opponent_id", b.RequestID, "error", err)
		return false
	}
	return !cooling
}

func (m *MatchPlayersUseCase) unlock(ctx context.Context, lock *coordination.Lock) {
	if err := m.coord.Unlock(ctx, lock); err != nil {
		m.logger.Warn("unlock failed", "request_id", lock.RequestID, "error", err)
	}
}
