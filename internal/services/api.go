package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/mount"
	"github.com/desertthunder/bulkup/internal/shared"
)

// APIService talks to a running bulkup server.
type APIService struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIService creates a client for baseURL, defaulting to the local server.
func NewAPIService(baseURL string, client *http.Client) *APIService {
	if baseURL == "" {
		baseURL = "http://localhost:8888"
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &APIService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
}

// JSON returns the value at path in a JSON body (gjson syntax). An empty path returns the whole body.
func (r *APIResponse) JSON(path string) gjson.Result {
	if path == "" {
		return gjson.ParseBytes(r.Body)
	}
	return gjson.GetBytes(r.Body, path)
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *APIError) Unwrap() error { return shared.ErrAPIRequest }

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	return a.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return a.do(ctx, http.MethodPost, path, data)
}

func (a *APIService) do(ctx context.Context, method, path string, data []byte) (*APIResponse, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       raw,
		IsJSON:     gjson.ValidBytes(raw),
	}, nil
}

// call performs a request and decodes a 2xx JSON body into out. Other statuses become an [*APIError].
func (a *APIService) call(ctx context.Context, method, path string, in, out any) error {
	var data []byte
	if in != nil {
		var err error
		if data, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	resp, err := a.do(ctx, method, path, data)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := resp.JSON("error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(resp.Body))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", shared.ErrAPIRequest, path, err)
	}
	return nil
}

// Status fetches the current session view.
func (a *APIService) Status(ctx context.Context) (*models.SessionView, error) {
	var v models.SessionView
	if err := a.call(ctx, http.MethodGet, "/api/status", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Control sends start, pause or stop and returns the view after the change.
func (a *APIService) Control(ctx context.Context, action string) (*models.SessionView, error) {
	var v models.SessionView
	if err := a.call(ctx, http.MethodPost, "/api/control", map[string]string{"action": action}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Select replaces the selected directory set.
func (a *APIService) Select(ctx context.Context, names []string) error {
	return a.call(ctx, http.MethodPost, "/api/select", map[string][]string{"directories": nonNil(names)}, nil)
}

// Retry re-queues failed directories.
func (a *APIService) Retry(ctx context.Context, names []string) error {
	return a.call(ctx, http.MethodPost, "/api/retry", map[string][]string{"directories": nonNil(names)}, nil)
}

// SetOrder changes the queue and display order.
func (a *APIService) SetOrder(ctx context.Context, order models.Order) error {
	return a.call(ctx, http.MethodPost, "/api/order", map[string]string{"order": order.String()}, nil)
}

// Rescan asks the server to scan the source root again.
func (a *APIService) Rescan(ctx context.Context) error {
	return a.call(ctx, http.MethodPost, "/api/scan", nil, nil)
}

// Logs returns recent backup log entries, or the persisted entries of session when it is set.
func (a *APIService) Logs(ctx context.Context, limit int, session string) ([]models.LogEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if session != "" {
		q.Set("session", session)
	}
	var entries []models.LogEntry
	if err := a.call(ctx, http.MethodGet, "/api/logs?"+q.Encode(), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// History returns archived session summaries, newest first.
func (a *APIService) History(ctx context.Context, limit int) ([]*models.SessionSummary, error) {
	var items []*models.SessionSummary
	if err := a.call(ctx, http.MethodGet, "/api/history?limit="+strconv.Itoa(limit), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Disk returns source and destination usage plus destination readiness.
func (a *APIService) Disk(ctx context.Context) (*mount.Report, error) {
	var rep mount.Report
	if err := a.call(ctx, http.MethodGet, "/api/disk", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Event is one message read from the event stream.
type Event struct {
	Name string
	Data []byte
}

// Get reads a field of the event envelope.
func (e Event) Get(path string) gjson.Result { return gjson.GetBytes(e.Data, path) }

// Watch reads the event stream, calling fn for every event until ctx ends, the server
// closes the stream, or fn returns an error.
func (a *APIService) Watch(ctx context.Context, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: gjson.GetBytes(raw, "error").String()}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var ev Event
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name != "" || len(ev.Data) > 0 {
				if err := fn(ev); err != nil {
					return err
				}
			}
			ev = Event{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if len(ev.Data) > 0 {
				ev.Data = append(ev.Data, '\n')
			}
			ev.Data = append(ev.Data, chunk...)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
