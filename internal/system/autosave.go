package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	coresys "github.com/idlesim/server/internal/core/system"
	"github.com/idlesim/server/internal/game"
	"github.com/idlesim/server/internal/persist"
	"go.uber.org/zap"
)

const saveTimeout = 5 * time.Second

// Saver stores one save slot. *persist.SaveRepo implements it.
type Saver interface {
	Save(ctx context.Context, row *persist.SaveRow) error
}

// Loader reads one save slot. *persist.SaveRepo implements it.
type Loader interface {
	Load(ctx context.Context, slot int) (*persist.SaveRow, error)
}

// AutosaveSystem snapshots the game every N ticks and hands the snapshot
// to a background writer. Phase 3 (Persist).
//
// The simulation goroutine never waits on the database: if the previous
// save is still being written the new snapshot is skipped.
type AutosaveSystem struct {
	state    *game.State
	timer    GameTimer
	saver    Saver
	log      *zap.Logger
	slot     int
	runID    uuid.UUID
	interval int // auto-save every N ticks

	tickCount int
	queue     chan *persist.SaveRow
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func NewAutosaveSystem(st *game.State, timer GameTimer, saver Saver, log *zap.Logger, slot int, runID uuid.UUID, intervalTicks int) *AutosaveSystem {
	return &AutosaveSystem{
		state:    st,
		timer:    timer,
		saver:    saver,
		log:      log,
		slot:     slot,
		runID:    runID,
		interval: intervalTicks,
		queue:    make(chan *persist.SaveRow, 1),
	}
}

func (s *AutosaveSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *AutosaveSystem) Update(_ coresys.Step) {
	if s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0

	row := s.snapshot()
	select {
	case s.queue <- row:
	default:
		s.log.Warn("previous autosave still running, snapshot skipped",
			zap.Float64("total_game_seconds", row.TotalGameSeconds))
	}
}

// Start launches the background writer. It exits when ctx is done or
// Close is called.
func (s *AutosaveSystem) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case row, ok := <-s.queue:
				if !ok {
					return
				}
				s.write(ctx, row)
			}
		}
	}()
}

// Close stops accepting snapshots and waits for an in-flight write.
// Must be called from the simulation goroutine, or after it has exited.
func (s *AutosaveSystem) Close() {
	s.stopOnce.Do(func() {
		close(s.queue)
		s.interval = 0
	})
	s.wg.Wait()
}

// SaveNow writes a snapshot synchronously. Called for graceful shutdown to
// ensure no progress is lost.
func (s *AutosaveSystem) SaveNow(ctx context.Context) error {
	row := s.snapshot()
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := s.saver.Save(ctx, row); err != nil {
		return fmt.Errorf("save slot %d: %w", s.slot, err)
	}
	s.log.Info("game saved",
		zap.Int("slot", s.slot),
		zap.Float64("total_game_seconds", row.TotalGameSeconds))
	return nil
}

func (s *AutosaveSystem) snapshot() *persist.SaveRow {
	return &persist.SaveRow{
		Slot:             s.slot,
		RunID:            s.runID,
		TotalGameSeconds: s.timer.TotalGameTime(),
		State:            s.state.Snapshot(),
	}
}

func (s *AutosaveSystem) write(ctx context.Context, row *persist.SaveRow) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := s.saver.Save(ctx, row); err != nil {
		s.log.Error("autosave failed", zap.Int("slot", row.Slot), zap.Error(err))
		return
	}
	s.log.Debug("autosaved",
		zap.Int("slot", row.Slot),
		zap.Float64("total_game_seconds", row.TotalGameSeconds))
}

// TimeRestorer accepts restored game time. *clock.Clock implements it.
type TimeRestorer interface {
	SetTotalGameTime(seconds float64)
}

// RestoreSlot loads a save into st and clk. It reports false with a nil
// error when the slot is empty. A corrupted save is logged and treated as
// empty so the server starts a fresh game.
func RestoreSlot(ctx context.Context, loader Loader, slot int, st *game.State, clk TimeRestorer, log *zap.Logger) (bool, error) {
	row, err := loader.Load(ctx, slot)
	if errors.Is(err, persist.ErrCorrupted) {
		log.Warn("save corrupted, starting a fresh game", zap.Int("slot", slot), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	clk.SetTotalGameTime(row.TotalGameSeconds)
	st.Restore(row.State)
	log.Info("save restored",
		zap.Int("slot", slot),
		zap.String("run_id", row.RunID.String()),
		zap.Float64("total_game_seconds", row.TotalGameSeconds),
		zap.Time("saved_at", row.SavedAt))
	return true, nil
}
