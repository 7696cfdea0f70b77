package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/lightpd/internal/channel"
	"github.com/dokzlo13/lightpd/internal/clock"
	"github.com/dokzlo13/lightpd/internal/codec"
	"github.com/dokzlo13/lightpd/internal/intake"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/program"
	"github.com/dokzlo13/lightpd/internal/scheduler"
	"github.com/dokzlo13/lightpd/internal/store"
)

type nopExecutor struct{}

func (nopExecutor) Execute(context.Context, []program.Action) error { return nil }

type switchDriver struct{ err error }

func (d *switchDriver) Apply(context.Context, channel.Level) error { return d.err }

type fixture struct {
	store  *store.Store
	wall   *clock.Wall
	driver *switchDriver
	output *channel.Output
	server *Server
}

func newFixture(opts Options) *fixture {
	f := &fixture{store: store.New(), wall: clock.NewWall(nil), driver: &switchDriver{}}
	f.output = channel.NewOutput(f.driver, nil)
	in := intake.New(f.store, f.wall, intake.Options{})
	sched := scheduler.New(f.store, nopExecutor{}, f.wall, scheduler.Options{})
	f.server = NewServer("127.0.0.1:0", in, f.output, sched, opts)
	return f
}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T) []byte {
	t.Helper()
	raw, err := codec.Encode(program.Program{
		Schedule: program.At(4102444800),
		Actions:  []program.Action{program.NewRamp(1000, 200, 100)},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

func TestUpload(t *testing.T) {
	f := newFixture(Options{})
	raw := upload(t)

	rec := f.do("POST", "/programs", raw)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /programs = %d, body %s", rec.Code, rec.Body)
	}
	var first uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil || !first.Inserted || first.ID == "" {
		t.Fatalf("response = %s (%v)", rec.Body, err)
	}

	rec = f.do("POST", "/programs", raw)
	if rec.Code != http.StatusOK {
		t.Errorf("duplicate POST = %d, want 200", rec.Code)
	}
	var dup uploadResponse
	json.Unmarshal(rec.Body.Bytes(), &dup)
	if dup.Inserted || dup.ID != first.ID {
		t.Errorf("duplicate response = %+v", dup)
	}

	rec = f.do("GET", "/programs", nil)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), raw) {
		t.Errorf("GET /programs = %d %x, want %x", rec.Code, rec.Body.Bytes(), raw)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestUpload_Rejected(t *testing.T) {
	f := newFixture(Options{})
	raw := upload(t)

	rec := f.do("POST", "/programs", raw[:len(raw)-1])
	if rec.Code != http.StatusBadRequest {
		t.Errorf("truncated POST = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "truncated") {
		t.Errorf("error body = %s", rec.Body)
	}
	if f.store.Len() != 0 {
		t.Error("rejected upload reached the store")
	}

	if rec := f.do("GET", "/programs", nil); rec.Code != http.StatusNoContent {
		t.Errorf("GET /programs before any upload = %d, want 204", rec.Code)
	}
}

func TestUpload_Throttled(t *testing.T) {
	f := newFixture(Options{UploadRPS: 0.001, UploadBurst: 1})
	raw := upload(t)

	if rec := f.do("POST", "/programs", raw); rec.Code != http.StatusCreated {
		t.Fatalf("first POST = %d", rec.Code)
	}
	rec := f.do("POST", "/programs", raw)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second POST = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(Options{})
	rec := f.do("POST", "/programs", make([]byte, MaxBodySize+1))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized POST = %d, want 413", rec.Code)
	}
}

func TestPending(t *testing.T) {
	f := newFixture(Options{})
	f.do("POST", "/programs", upload(t))

	rec := f.do("GET", "/programs/pending", nil)
	var entries []scheduler.PendingEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode pending: %v (%s)", err, rec.Body)
	}
	if len(entries) != 1 || entries[0].Due || len(entries[0].Actions) != 1 {
		t.Errorf("pending = %+v", entries)
	}

	rec = f.do("GET", "/programs/pending?format=text", nil)
	if !strings.Contains(rec.Body.String(), entries[0].ID) {
		t.Errorf("text listing = %s", rec.Body)
	}
}

func TestTimeSync(t *testing.T) {
	f := newFixture(Options{})

	rec := f.do("PUT", "/time", codec.EncodeTimestamp(1700000000))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT /time = %d", rec.Code)
	}
	if got := f.wall.Now().Unix(); got < 1700000000 || got > 1700000001 {
		t.Errorf("wall clock = %d", got)
	}

	if rec := f.do("PUT", "/time", []byte{1}); rec.Code != http.StatusBadRequest {
		t.Errorf("short PUT /time = %d, want 400", rec.Code)
	}
}

func TestLight(t *testing.T) {
	f := newFixture(Options{})

	if rec := f.do("PUT", "/light", []byte{12, 34}); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT /light = %d", rec.Code)
	}
	rec := f.do("GET", "/light", nil)
	if !bytes.Equal(rec.Body.Bytes(), []byte{12, 34}) {
		t.Errorf("GET /light = %v", rec.Body.Bytes())
	}

	if rec := f.do("PUT", "/light", []byte{1}); rec.Code != http.StatusBadRequest {
		t.Errorf("short PUT /light = %d, want 400", rec.Code)
	}

	f.driver.err = errors.New("bridge offline")
	if rec := f.do("PUT", "/light", []byte{99, 99}); rec.Code != http.StatusBadGateway {
		t.Errorf("failing PUT /light = %d, want 502", rec.Code)
	}
	if f.output.Get() != (channel.Level{CW: 12, WW: 34}) {
		t.Errorf("failed write changed the level to %v", f.output.Get())
	}
}

// fakeHistory records the query it was asked and answers with entries.
type fakeHistory struct {
	entries []*ledger.Entry
	err     error

	byType     ledger.EventType
	byProgram  string
	start, end time.Time
	limit      int
}

func (h *fakeHistory) GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error) {
	h.byType, h.limit = eventType, limit
	return h.entries, h.err
}

func (h *fakeHistory) GetByProgram(programID string) ([]*ledger.Entry, error) {
	h.byProgram = programID
	return h.entries, h.err
}

func (h *fakeHistory) GetByTimeRange(start, end time.Time, limit int) ([]*ledger.Entry, error) {
	h.start, h.end, h.limit = start, end, limit
	return h.entries, h.err
}

func TestProgramHistory(t *testing.T) {
	h := &fakeHistory{entries: []*ledger.Entry{
		{ID: 1, EventType: ledger.EventProgramAccepted, ProgramID: "abc"},
		{ID: 2, EventType: ledger.EventProgramExecuted, ProgramID: "abc"},
	}}
	f := newFixture(Options{History: h})

	rec := f.do("GET", "/programs/abc/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET history = %d %s", rec.Code, rec.Body)
	}
	if h.byProgram != "abc" {
		t.Errorf("queried program %q, want abc", h.byProgram)
	}
	var got []ledger.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(got) != 2 || got[1].EventType != ledger.EventProgramExecuted {
		t.Errorf("history = %+v", got)
	}

	h.entries = nil
	if rec := f.do("GET", "/programs/nope/history", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown history = %d, want 404", rec.Code)
	}

	h.err = errors.New("disk gone")
	if rec := f.do("GET", "/programs/abc/history", nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("GET history on ledger error = %d, want 500", rec.Code)
	}
}

func TestLedgerListing(t *testing.T) {
	h := &fakeHistory{}
	f := newFixture(Options{History: h})

	rec := f.do("GET", "/ledger?type=program_failed&limit=5", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("GET /ledger?type = %d %s", rec.Code, rec.Body)
	}
	if h.byType != ledger.EventProgramFailed || h.limit != 5 {
		t.Errorf("GetByType(%q, %d)", h.byType, h.limit)
	}

	rec = f.do("GET", "/ledger?since=2024-01-01T00:00:00Z&until=2024-01-02T00:00:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /ledger range = %d %s", rec.Code, rec.Body)
	}
	if !h.start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || !h.end.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("GetByTimeRange(%v, %v)", h.start, h.end)
	}
	if h.limit != DefaultHistoryLimit {
		t.Errorf("limit = %d, want default %d", h.limit, DefaultHistoryLimit)
	}

	before := time.Now()
	f.do("GET", "/ledger", nil)
	if h.start.Unix() != 0 || h.end.Before(before) {
		t.Errorf("default range = %v..%v", h.start, h.end)
	}

	for _, q := range []string{"?limit=0", "?limit=x", "?since=yesterday", "?type=time_synced&since=2024-01-01T00:00:00Z"} {
		if rec := f.do("GET", "/ledger"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("GET /ledger%s = %d, want 400", q, rec.Code)
		}
	}
}

func TestLedgerDisabled(t *testing.T) {
	f := newFixture(Options{})
	for _, path := range []string{"/ledger", "/programs/abc/history"} {
		if rec := f.do("GET", path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

func TestHealthAndMethods(t *testing.T) {
	f := newFixture(Options{})

	rec := f.do("GET", "/health", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("GET /health = %d %s", rec.Code, rec.Body)
	}
	if rec := f.do("DELETE", "/light", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /light = %d, want 405", rec.Code)
	}
}

func TestRun_Shutdown(t *testing.T) {
	f := newFixture(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx, time.Second) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestServeOverNetwork(t *testing.T) {
	f := newFixture(Options{})
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/programs", "application/octet-stream", bytes.NewReader(upload(t)))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
