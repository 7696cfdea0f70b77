// Package client talks to a lightpd device over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dokzlo13/lightpd/internal/channel"
	"github.com/dokzlo13/lightpd/internal/codec"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/program"
	"github.com/dokzlo13/lightpd/internal/scheduler"
)

// Client is a lightpd HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the device at baseURL (e.g. http://lamp:8080).
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// UploadResult is the device's answer to an upload.
type UploadResult struct {
	ID       string `json:"id"`
	Inserted bool   `json:"inserted"`
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device returned %d", e.Code)
	}
	return fmt.Sprintf("device returned %d: %s", e.Code, e.Message)
}

// Upload encodes p and sends it to the device.
func (c *Client) Upload(ctx context.Context, p program.Program) (UploadResult, error) {
	raw, err := codec.Encode(p)
	if err != nil {
		return UploadResult{}, fmt.Errorf("encode program: %w", err)
	}
	return c.UploadRaw(ctx, raw)
}

// UploadRaw sends already encoded program bytes.
func (c *Client) UploadRaw(ctx context.Context, raw []byte) (UploadResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/programs", raw)
	if err != nil {
		return UploadResult{}, err
	}
	var res UploadResult
	if err := json.Unmarshal(body, &res); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return res, nil
}

// LastUpload returns the decoded confirmation payload, or false if the device
// has not accepted anything yet.
func (c *Client) LastUpload(ctx context.Context) (program.Program, bool, error) {
	body, err := c.do(ctx, http.MethodGet, "/programs", nil)
	if err != nil {
		return program.Program{}, false, err
	}
	if len(body) == 0 {
		return program.Program{}, false, nil
	}
	p, err := codec.Decode(body)
	if err != nil {
		return program.Program{}, false, err
	}
	return p, true, nil
}

// Pending lists programs waiting on the device.
func (c *Client) Pending(ctx context.Context) ([]scheduler.PendingEntry, error) {
	body, err := c.do(ctx, http.MethodGet, "/programs/pending", nil)
	if err != nil {
		return nil, err
	}
	var entries []scheduler.PendingEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode pending list: %w", err)
	}
	return entries, nil
}

// History returns the audit trail of one program, oldest first.
func (c *Client) History(ctx context.Context, programID string) ([]ledger.Entry, error) {
	body, err := c.do(ctx, http.MethodGet, "/programs/"+url.PathEscape(programID)+"/history", nil)
	if err != nil {
		return nil, err
	}
	return decodeEntries(body)
}

// LedgerQuery filters a ledger listing. Type and the time range are
// exclusive; zero values are omitted.
type LedgerQuery struct {
	Type  ledger.EventType
	Since time.Time
	Until time.Time
	Limit int
}

// Ledger lists audit entries, newest first.
func (c *Client) Ledger(ctx context.Context, q LedgerQuery) ([]ledger.Entry, error) {
	v := url.Values{}
	if q.Type != "" {
		v.Set("type", string(q.Type))
	}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		v.Set("until", q.Until.Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/ledger"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeEntries(body)
}

func decodeEntries(body []byte) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode ledger entries: %w", err)
	}
	return entries, nil
}

// SyncTime sets the device wall clock.
func (c *Client) SyncTime(ctx context.Context, t time.Time) error {
	_, err := c.do(ctx, http.MethodPut, "/time", codec.EncodeTimestamp(t.Unix()))
	return err
}

// Light reads the device light state.
func (c *Client) Light(ctx context.Context) (channel.Level, error) {
	body, err := c.do(ctx, http.MethodGet, "/light", nil)
	if err != nil {
		return channel.Level{}, err
	}
	return channel.LevelFromBytes(body)
}

// SetLight writes the device light state directly.
func (c *Client) SetLight(ctx context.Context, l channel.Level) error {
	_, err := c.do(ctx, http.MethodPut, "/light", l.Bytes())
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		serr := &StatusError{Code: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil {
			serr.Message = e.Error
		}
		return nil, serr
	}
	return data, nil
}
