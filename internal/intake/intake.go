// Package intake accepts raw program uploads and time syncs from the
// transport and applies them to the store and the wall clock.
package intake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/clock"
	"github.com/dokzlo13/lightpd/internal/codec"
	"github.com/dokzlo13/lightpd/internal/eventbus"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/store"
)

// Result describes an accepted upload.
type Result struct {
	ID       string
	Inserted bool // false when the program duplicated a stored one
}

// Options configures optional collaborators. Zero values are valid.
type Options struct {
	Bus    *eventbus.Bus
	Ledger *ledger.Ledger
}

// Intake decodes uploads and keeps the confirmation payload.
type Intake struct {
	store  *store.Store
	wall   *clock.Wall
	bus    *eventbus.Bus
	ledger *ledger.Ledger

	mu           sync.RWMutex
	confirmation []byte
}

// New creates an intake writing to st and wall.
func New(st *store.Store, wall *clock.Wall, opts Options) *Intake {
	return &Intake{
		store:  st,
		wall:   wall,
		bus:    opts.Bus,
		ledger: opts.Ledger,
	}
}

// Submit decodes raw and stores the program. A decode failure leaves the
// store untouched and is returned. A duplicate is not an error: Result
// carries the ID of the program already stored and Inserted is false.
func (in *Intake) Submit(raw []byte) (Result, error) {
	p, err := codec.Decode(raw)
	if err != nil {
		in.reject(raw, err)
		return Result{}, fmt.Errorf("decode program: %w", err)
	}

	entry, inserted := in.store.Add(p)
	if !inserted {
		log.Debug().Str("program_id", entry.ID).Msg("Duplicate program ignored")
		return Result{ID: entry.ID}, nil
	}

	confirmation := append([]byte(nil), raw...)
	in.mu.Lock()
	in.confirmation = confirmation
	in.mu.Unlock()

	log.Info().
		Str("program_id", entry.ID).
		Str("schedule", p.Schedule.String()).
		Int("actions", len(p.Actions)).
		Int("pending", in.store.Len()).
		Msg("Program accepted")

	if err := in.ledger.AppendWithSource(ledger.EventProgramAccepted, entry.ID, "intake", map[string]any{
		"schedule": p.Schedule.String(),
		"actions":  len(p.Actions),
		"size":     len(raw),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to record upload in ledger")
	}
	in.bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypeProgramAccepted,
		Payload: eventbus.ProgramAccepted{ID: entry.ID, Raw: confirmation},
	})

	return Result{ID: entry.ID, Inserted: true}, nil
}

func (in *Intake) reject(raw []byte, err error) {
	ev := log.Warn().Err(err).Int("size", len(raw))
	payload := map[string]any{"error": err.Error(), "size": len(raw)}

	var derr *codec.DecodeError
	if errors.As(err, &derr) {
		ev = ev.Int("offset", derr.Offset)
		payload["offset"] = derr.Offset
	}
	ev.Msg("Program upload rejected")

	if lerr := in.ledger.AppendWithSource(ledger.EventProgramRejected, "", "intake", payload); lerr != nil {
		log.Warn().Err(lerr).Msg("Failed to record rejection in ledger")
	}
}

// Confirmation returns the raw bytes of the last accepted upload, or nil.
func (in *Intake) Confirmation() []byte {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.confirmation == nil {
		return nil
	}
	return append([]byte(nil), in.confirmation...)
}

// SyncTime sets the wall clock from an 8-byte little-endian epoch second.
func (in *Intake) SyncTime(raw []byte) (time.Time, error) {
	epoch, err := codec.DecodeTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp: %w", err)
	}

	before := in.wall.Now()
	in.wall.Set(epoch)
	now := in.wall.Now()

	log.Info().
		Time("time", now).
		Dur("adjusted_by", now.Sub(before).Round(time.Second)).
		Msg("Wall clock synced")

	if err := in.ledger.AppendWithSource(ledger.EventTimeSynced, "", "intake", map[string]any{"epoch": epoch}); err != nil {
		log.Warn().Err(err).Msg("Failed to record time sync in ledger")
	}
	in.bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypeTimeSynced,
		Payload: eventbus.TimeSynced{EpochSeconds: epoch},
	})
	return now, nil
}
