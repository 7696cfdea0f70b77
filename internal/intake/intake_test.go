package intake

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dokzlo13/lightpd/internal/clock"
	"github.com/dokzlo13/lightpd/internal/codec"
	"github.com/dokzlo13/lightpd/internal/eventbus"
	"github.com/dokzlo13/lightpd/internal/program"
	"github.com/dokzlo13/lightpd/internal/store"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

func encode(t *testing.T, p program.Program) []byte {
	t.Helper()
	raw, err := codec.Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

func sample() program.Program {
	return program.Program{
		Schedule: program.At(1700000000),
		Actions: []program.Action{
			program.NewFixed(1000, 10, 20),
			program.NewRamp(5000, 255, 0),
			program.NewBlink(2000, 100, 100, 255, 255, 0, 0),
		},
	}
}

func TestSubmit_InsertsAndConfirms(t *testing.T) {
	st := store.New()
	in := New(st, clock.NewWall(nil), Options{})
	raw := encode(t, sample())

	res, err := in.Submit(raw)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Inserted || res.ID == "" {
		t.Errorf("Submit() = %+v", res)
	}
	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1", st.Len())
	}
	if !bytes.Equal(in.Confirmation(), raw) {
		t.Errorf("Confirmation() = %x, want %x", in.Confirmation(), raw)
	}

	// The confirmation is a copy of the upload.
	raw[0] ^= 0xFF
	if bytes.Equal(in.Confirmation(), raw) {
		t.Error("Confirmation() aliases the caller's buffer")
	}
}

func TestSubmit_Duplicate(t *testing.T) {
	st := store.New()
	in := New(st, clock.NewWall(nil), Options{})
	raw := encode(t, sample())

	first, _ := in.Submit(raw)
	second, err := in.Submit(raw)
	if err != nil {
		t.Fatalf("duplicate Submit() error = %v", err)
	}
	if second.Inserted {
		t.Error("duplicate Submit() inserted")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate ID = %q, want %q", second.ID, first.ID)
	}
	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1", st.Len())
	}
}

func TestSubmit_TruncatedLeavesStoreUntouched(t *testing.T) {
	st := store.New()
	in := New(st, clock.NewWall(nil), Options{})
	raw := encode(t, sample())

	// Every prefix that does not end on a record boundary must be rejected.
	boundaries := map[int]bool{8: true, 19: true, 30: true, len(raw): true}
	for n := 0; n < len(raw); n++ {
		if boundaries[n] {
			continue
		}
		if _, err := in.Submit(raw[:n]); !errors.Is(err, codec.ErrTruncatedInput) {
			t.Fatalf("Submit(%d bytes) error = %v, want ErrTruncatedInput", n, err)
		}
	}
	if st.Len() != 0 {
		t.Errorf("Len() = %d after rejected uploads, want 0", st.Len())
	}
	if in.Confirmation() != nil {
		t.Error("Confirmation() set by rejected upload")
	}
}

func TestSubmit_InvalidTagAnywhere(t *testing.T) {
	st := store.New()
	in := New(st, clock.NewWall(nil), Options{})
	raw := encode(t, sample())

	// Replace the ramp tag (after the 8-byte timestamp and one fixed record).
	bad := append([]byte(nil), raw...)
	bad[19] = 3
	if _, err := in.Submit(bad); !errors.Is(err, codec.ErrInvalidActionType) {
		t.Fatalf("Submit() error = %v, want ErrInvalidActionType", err)
	}

	var derr *codec.DecodeError
	_, err := in.Submit(bad)
	if !errors.As(err, &derr) || derr.Offset != 19 {
		t.Errorf("DecodeError = %+v, want offset 19", derr)
	}
	if st.Len() != 0 {
		t.Errorf("Len() = %d, want 0", st.Len())
	}
}

func TestSubmit_PublishesAccepted(t *testing.T) {
	bus := eventbus.New()
	got := make(chan eventbus.ProgramAccepted, 1)
	bus.Subscribe(eventbus.EventTypeProgramAccepted, func(e eventbus.Event) {
		got <- e.Payload.(eventbus.ProgramAccepted)
	})

	in := New(store.New(), clock.NewWall(nil), Options{Bus: bus})
	raw := encode(t, sample())
	res, _ := in.Submit(raw)
	in.Submit(raw) // duplicates are not broadcast

	select {
	case ev := <-got:
		if ev.ID != res.ID || !bytes.Equal(ev.Raw, raw) {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no program_accepted event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)

	select {
	case ev := <-got:
		t.Errorf("unexpected second event %+v", ev)
	default:
	}
}

func TestSyncTime(t *testing.T) {
	wall := clock.NewWall(stubClock{t: time.Unix(100, 0)})
	in := New(store.New(), wall, Options{})

	now, err := in.SyncTime(codec.EncodeTimestamp(1700000000))
	if err != nil {
		t.Fatalf("SyncTime() error = %v", err)
	}
	if now.Unix() != 1700000000 || wall.Now().Unix() != 1700000000 {
		t.Errorf("wall clock = %v", wall.Now())
	}
	if !wall.Synced() {
		t.Error("Synced() = false")
	}

	if _, err := in.SyncTime([]byte{1, 2, 3}); !errors.Is(err, codec.ErrTruncatedInput) {
		t.Errorf("short SyncTime() error = %v, want ErrTruncatedInput", err)
	}
}
