package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/idlesim/server/internal/game"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/blake2b"
)

// ErrCorrupted is returned by Load when the stored checksum does not match
// the stored payload.
var ErrCorrupted = errors.New("save corrupted")

// SaveRow is one save slot.
type SaveRow struct {
	Slot             int
	RunID            uuid.UUID
	TotalGameSeconds float64
	State            game.Snapshot
	SavedAt          time.Time
}

type SaveRepo struct {
	db *DB
}

func NewSaveRepo(db *DB) *SaveRepo {
	return &SaveRepo{db: db}
}

// Save overwrites the slot and appends a history entry in one transaction.
func (r *SaveRepo) Save(ctx context.Context, row *SaveRow) error {
	p, err := encodePayload(row)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO save_slots (slot, run_id, total_game_seconds, resources, milestones, flags, outcome, checksum, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (slot) DO UPDATE SET
		   run_id = EXCLUDED.run_id,
		   total_game_seconds = EXCLUDED.total_game_seconds,
		   resources = EXCLUDED.resources,
		   milestones = EXCLUDED.milestones,
		   flags = EXCLUDED.flags,
		   outcome = EXCLUDED.outcome,
		   checksum = EXCLUDED.checksum,
		   saved_at = NOW()`,
		row.Slot, row.RunID.String(), row.TotalGameSeconds,
		p.resources, p.milestones, p.flags, row.State.Outcome, p.checksum[:],
	); err != nil {
		return fmt.Errorf("save slot %d: %w", row.Slot, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO save_history (slot, run_id, total_game_seconds, milestones)
		 VALUES ($1, $2, $3, $4)`,
		row.Slot, row.RunID.String(), row.TotalGameSeconds, len(row.State.Milestones),
	); err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	return tx.Commit(ctx)
}

// Load returns the slot's save, nil if the slot is empty, or ErrCorrupted
// if the checksum does not match.
func (r *SaveRepo) Load(ctx context.Context, slot int) (*SaveRow, error) {
	var (
		runID                     string
		resources, milestones, fl []byte
		checksum                  []byte
		row                       = &SaveRow{Slot: slot}
	)
	err := r.db.Pool.QueryRow(ctx,
		`SELECT run_id::text, total_game_seconds, resources, milestones, flags, outcome, checksum, saved_at
		 FROM save_slots WHERE slot = $1`, slot,
	).Scan(&runID, &row.TotalGameSeconds, &resources, &milestones, &fl, &row.State.Outcome, &checksum, &row.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot %d: %w", slot, err)
	}

	if row.RunID, err = uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("load slot %d: run id: %w", slot, err)
	}
	p := payload{resources: resources, milestones: milestones, flags: fl}
	sum := p.sum(row.TotalGameSeconds, row.State.Outcome)
	if !bytes.Equal(sum[:], checksum) {
		return nil, fmt.Errorf("slot %d: %w", slot, ErrCorrupted)
	}
	if err := decodeState(p, &row.State); err != nil {
		return nil, fmt.Errorf("load slot %d: %w", slot, err)
	}
	return row, nil
}

// payload is the JSON-encoded part of a save, as stored.
type payload struct {
	resources  []byte
	milestones []byte
	flags      []byte
	checksum   [blake2b.Size256]byte
}

func encodePayload(row *SaveRow) (payload, error) {
	var p payload
	var err error
	snap := row.State
	if snap.Resources == nil {
		snap.Resources = map[string]game.ResourceSnapshot{}
	}
	if snap.Milestones == nil {
		snap.Milestones = []string{}
	}
	if snap.Flags == nil {
		snap.Flags = []string{}
	}
	if p.resources, err = json.Marshal(snap.Resources); err != nil {
		return p, fmt.Errorf("encode resources: %w", err)
	}
	if p.milestones, err = json.Marshal(snap.Milestones); err != nil {
		return p, fmt.Errorf("encode milestones: %w", err)
	}
	if p.flags, err = json.Marshal(snap.Flags); err != nil {
		return p, fmt.Errorf("encode flags: %w", err)
	}
	p.checksum = p.sum(row.TotalGameSeconds, snap.Outcome)
	return p, nil
}

// sum is BLAKE2b-256 over the canonical payload. PostgreSQL jsonb does not
// preserve formatting, so the JSON parts are re-encoded before hashing.
func (p payload) sum(totalGameSeconds float64, outcome string) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%.9f\x00%s\x00", totalGameSeconds, outcome)
	for _, part := range [][]byte{p.resources, p.milestones, p.flags} {
		h.Write(canonicalJSON(part))
		h.Write([]byte{0})
	}
	var out [blake2b.Size256]byte
	copy(out[:], h.Sum(nil))
	return out
}

// canonicalJSON re-encodes raw JSON with sorted object keys and no
// insignificant whitespace. Invalid input is hashed as-is.
func canonicalJSON(raw []byte) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

func decodeState(p payload, snap *game.Snapshot) error {
	if err := json.Unmarshal(p.resources, &snap.Resources); err != nil {
		return fmt.Errorf("decode resources: %w", err)
	}
	if err := json.Unmarshal(p.milestones, &snap.Milestones); err != nil {
		return fmt.Errorf("decode milestones: %w", err)
	}
	if err := json.Unmarshal(p.flags, &snap.Flags); err != nil {
		return fmt.Errorf("decode flags: %w", err)
	}
	return nil
}
