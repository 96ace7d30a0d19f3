package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/sjson"

	"github.com/desertthunder/bulkup/internal/broadcast"
)

// Envelope builds the JSON payload of one SSE event.
func Envelope(m broadcast.Message) ([]byte, error) {
	var data any
	switch m.Kind {
	case broadcast.KindSnapshot:
		data = m.View
	case broadcast.KindDirectory:
		data = m.Directory
	case broadcast.KindLog:
		data = m.Log
	case broadcast.KindWorkers:
		data = m.Workers
	}

	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "type", string(m.Kind)); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "seq", m.Seq); err != nil {
		return nil, err
	}
	if !m.At.IsZero() {
		if out, err = sjson.SetBytes(out, "at", m.At.Format(time.RFC3339Nano)); err != nil {
			return nil, err
		}
	}
	if m.Reason != "" {
		if out, err = sjson.SetBytes(out, "reason", m.Reason); err != nil {
			return nil, err
		}
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		if out, err = sjson.SetRawBytes(out, "data", raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeEvent(w io.Writer, m broadcast.Message) error {
	payload, err := Envelope(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", m.Kind, m.Seq, payload)
	return err
}

func (s *Server) snapshotMessage() broadcast.Message {
	v := s.ctrl.Snapshot()
	return broadcast.Message{Kind: broadcast.KindSnapshot, Seq: v.Seq, View: &v, At: v.GeneratedAt}
}

// events streams published messages, starting with the current snapshot.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	sub := s.ctrl.Subscribe()
	defer s.ctrl.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(m broadcast.Message) bool {
		if err := writeEvent(w, m); err != nil {
			return false
		}
		return rc.Flush() == nil
	}
	if !send(s.snapshotMessage()) {
		return
	}

	id := RequestIDFrom(r.Context())
	s.logger.Debug("event stream opened", "request_id", id)
	defer s.logger.Debug("event stream closed", "request_id", id, "dropped", sub.Dropped())

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	var seen uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil || rc.Flush() != nil {
				return
			}
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			// After losing messages the client gets a full snapshot instead of a gap.
			if d := sub.Dropped(); d != seen {
				seen = d
				if m.Kind != broadcast.KindSnapshot {
					m = s.snapshotMessage()
				}
			}
			if !send(m) {
				return
			}
		}
	}
}
