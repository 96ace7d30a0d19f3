package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
	tu "github.com/desertthunder/bulkup/internal/testing"
)

func TestAPIService(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("With Custom BaseURL and Client", func(t *testing.T) {
			customClient := &http.Client{}
			srv := NewAPIService("http://example.com/", customClient)

			if srv.baseURL != "http://example.com" {
				t.Errorf("expected trailing slash trimmed, got %s", srv.baseURL)
			}
			if srv.httpClient != customClient {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("With Empty BaseURL", func(t *testing.T) {
			srv := NewAPIService("", nil)

			if srv.baseURL != "http://localhost:8888" {
				t.Errorf("expected default baseURL 'http://localhost:8888', got %s", srv.baseURL)
			}
			if srv.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("JSON Response Supports Queries", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"state":"running","session":{"directories":[{"name":"a"},{"name":"b"}]}}`))
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Get(context.Background(), "/api/status")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !resp.IsJSON {
				t.Error("expected response to be JSON")
			}
			if got := resp.JSON("session.directories.#.name").String(); got != `["a","b"]` {
				t.Errorf("unexpected query result %s", got)
			}
			if got := resp.JSON("").Get("state").String(); got != "running" {
				t.Errorf("expected running, got %s", got)
			}
		})

		t.Run("Failed Request Creation", func(t *testing.T) {
			_, err := NewAPIService("http://example.com", nil).Get(context.Background(), "/test\x00invalid")
			if err == nil || !strings.Contains(err.Error(), "failed to create request") {
				t.Errorf("expected 'failed to create request' error, got %v", err)
			}
		})

		t.Run("Failed HTTP Request", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused"))}

			_, err := NewAPIService("http://example.com", client).Get(context.Background(), "/test")
			if err == nil || !strings.Contains(err.Error(), "request failed") {
				t.Errorf("expected 'request failed' error, got %v", err)
			}
		})

		t.Run("Failed Response Body Read", func(t *testing.T) {
			client := &http.Client{
				Transport: tu.NewMockRoundTripper(&http.Response{
					StatusCode: http.StatusOK,
					Body:       &tu.FCloser{},
					Header:     http.Header{},
				}, nil),
			}

			_, err := NewAPIService("http://example.com", client).Get(context.Background(), "/test")
			if err == nil || !strings.Contains(err.Error(), "failed to read response") {
				t.Errorf("expected 'failed to read response' error, got %v", err)
			}
		})
	})

	t.Run("Control", func(t *testing.T) {
		t.Run("Sends Action And Decodes View", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/api/control" {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				if r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("expected JSON content type, got %s", r.Header.Get("Content-Type"))
				}
				body, _ := io.ReadAll(r.Body)
				if string(body) != `{"action":"start"}` {
					t.Errorf("unexpected body %s", body)
				}
				w.Write([]byte(`{"seq":4,"state":"running","session":null,"workers":[]}`))
			}))
			defer server.Close()

			v, err := NewAPIService(server.URL, nil).Control(context.Background(), "start")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if v.State != models.Running || v.Seq != 4 {
				t.Errorf("unexpected view %+v", v)
			}
		})

		t.Run("Error Body Becomes APIError", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPreconditionFailed)
				w.Write([]byte(`{"error":"destination not ready: not mounted"}`))
			}))
			defer server.Close()

			_, err := NewAPIService(server.URL, nil).Control(context.Background(), "start")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T %v", err, err)
			}
			if apiErr.StatusCode != http.StatusPreconditionFailed || apiErr.Message != "destination not ready: not mounted" {
				t.Errorf("unexpected error %+v", apiErr)
			}
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Error("expected the error to match ErrAPIRequest")
			}
		})

		t.Run("Plain Text Error", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad gateway", http.StatusBadGateway)
			}))
			defer server.Close()

			err := NewAPIService(server.URL, nil).Rescan(context.Background())
			if err == nil || !strings.Contains(err.Error(), "bad gateway") {
				t.Errorf("expected the plain body in the error, got %v", err)
			}
		})
	})

	t.Run("Requests", func(t *testing.T) {
		var (
			mu  sync.Mutex
			got []string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			got = append(got, fmt.Sprintf("%s %s %s", r.Method, r.URL.RequestURI(), body))
			mu.Unlock()
			switch r.URL.Path {
			case "/api/logs":
				w.Write([]byte(`[{"level":"info","message":"hello"}]`))
			case "/api/history":
				w.Write([]byte(`[{"id":"h1","sequence":1,"status":"completed_with_errors"}]`))
			case "/api/disk":
				w.Write([]byte(`{"destination":{"path":"/dst","available":true},"readiness":{"ready":true}}`))
			default:
				w.Write([]byte(`{}`))
			}
		}))
		defer server.Close()
		api := NewAPIService(server.URL, nil)
		ctx := context.Background()

		if err := api.Select(ctx, nil); err != nil {
			t.Fatalf("Select: %v", err)
		}
		if err := api.Retry(ctx, []string{"alpha"}); err != nil {
			t.Fatalf("Retry: %v", err)
		}
		if err := api.SetOrder(ctx, models.OrderSize); err != nil {
			t.Fatalf("SetOrder: %v", err)
		}
		logs, err := api.Logs(ctx, 5, "s1")
		if err != nil || len(logs) != 1 || logs[0].Message != "hello" {
			t.Fatalf("Logs: %v %+v", err, logs)
		}
		hist, err := api.History(ctx, 3)
		if err != nil || len(hist) != 1 || hist[0].Status != models.SummaryCompletedWithErrors {
			t.Fatalf("History: %v %+v", err, hist)
		}
		rep, err := api.Disk(ctx)
		if err != nil || !rep.Readiness.Ready || rep.Destination.Path != "/dst" {
			t.Fatalf("Disk: %v %+v", err, rep)
		}

		want := []string{
			`POST /api/select {"directories":[]}`,
			`POST /api/retry {"directories":["alpha"]}`,
			`POST /api/order {"order":"size"}`,
			`GET /api/logs?limit=5&session=s1 `,
			`GET /api/history?limit=3 `,
			`GET /api/disk `,
		}
		mu.Lock()
		defer mu.Unlock()
		if len(got) != len(want) {
			t.Fatalf("expected %d requests, got %v", len(want), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("request %d: expected %q, got %q", i, want[i], got[i])
			}
		}
	})

	t.Run("Watch", func(t *testing.T) {
		t.Run("Reads Events And Skips Comments", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "event: snapshot\nid: 1\ndata: {\"type\":\"snapshot\",\"seq\":1}\n\n")
				fmt.Fprint(w, ": ping\n\n")
				fmt.Fprint(w, "event: log\ndata: {\"type\":\"log\",\"data\":{\"message\":\"done\"}}\n\n")
			}))
			defer server.Close()

			var events []Event
			err := NewAPIService(server.URL, nil).Watch(context.Background(), func(e Event) error {
				events = append(events, e)
				return nil
			})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(events) != 2 {
				t.Fatalf("expected 2 events, got %d", len(events))
			}
			if events[0].Name != "snapshot" || events[0].Get("seq").Int() != 1 {
				t.Errorf("unexpected first event %+v", events[0])
			}
			if events[1].Get("data.message").String() != "done" {
				t.Errorf("unexpected second event %s", events[1].Data)
			}
		})

		t.Run("Callback Error Stops Reading", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for i := range 5 {
					fmt.Fprintf(w, "event: log\ndata: {\"seq\":%d}\n\n", i)
				}
			}))
			defer server.Close()

			stop := errors.New("enough")
			n := 0
			err := NewAPIService(server.URL, nil).Watch(context.Background(), func(Event) error {
				n++
				if n == 2 {
					return stop
				}
				return nil
			})
			if !errors.Is(err, stop) || n != 2 {
				t.Errorf("expected to stop after 2 events, got %d %v", n, err)
			}
		})

		t.Run("Cancelled Context Ends Quietly", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "event: snapshot\ndata: {}\n\n")
				w.(http.Flusher).Flush()
				<-r.Context().Done()
			}))
			defer server.Close()

			ctx, cancel := context.WithCancel(context.Background())
			err := NewAPIService(server.URL, nil).Watch(ctx, func(Event) error {
				cancel()
				return nil
			})
			if err != nil {
				t.Errorf("expected nil after cancel, got %v", err)
			}
		})

		t.Run("Non OK Status", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"error": "backup manager is not running"})
			}))
			defer server.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err := NewAPIService(server.URL, nil).Watch(ctx, func(Event) error { return nil })

			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("expected a 503 APIError, got %v", err)
			}
		})
	})
}
