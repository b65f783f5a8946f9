package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// followTrace delivers trace events with Seq > after to emit, in order and without
// duplicates, until the job is terminal. Live jobs are followed through the hub;
// otherwise the store is polled. It returns the job's final status.
func (s *Server) followTrace(ctx context.Context, job *types.ResearchJob, after int64, emit func(types.TraceEvent) error) (types.JobStatus, error) {
	for {
		if s.hub != nil {
			if log, ok := s.hub.Get(job.ID); ok {
				history, events, cancel := log.Subscribe(256)
				last, err := s.forward(ctx, history, events, after, emit)
				cancel()
				if err != nil {
					return job.Status, err
				}
				after = last
			}
		}

		// Status is read before the catch-up: terminal events are persisted ahead of
		// the terminal status, so a terminal read means the listing below is complete.
		current, err := s.jobs.GetJob(ctx, job.ID)
		if err != nil {
			return job.Status, err
		}
		stored, err := s.jobs.ListTraceEvents(ctx, job.ID, after)
		if err != nil {
			return job.Status, err
		}
		for _, ev := range stored {
			if err := emit(ev); err != nil {
				return job.Status, err
			}
			after = ev.Seq
		}
		if current.Status.IsTerminal() {
			return current.Status, nil
		}

		select {
		case <-ctx.Done():
			return current.Status, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// forward drains a live subscription and returns the last delivered sequence number.
func (s *Server) forward(ctx context.Context, history []types.TraceEvent, events <-chan types.TraceEvent, after int64, emit func(types.TraceEvent) error) (int64, error) {
	send := func(ev types.TraceEvent) error {
		if ev.Seq <= after {
			return nil
		}
		if err := emit(ev); err != nil {
			return err
		}
		after = ev.Seq
		return nil
	}

	for _, ev := range history {
		if err := send(ev); err != nil {
			return after, err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return after, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return after, nil
			}
			if err := send(ev); err != nil {
				return after, err
			}
		}
	}
}

// handleStream streams a job's trace as Server-Sent Events
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	after, err := parseAfterSeq(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var mu sync.Mutex
	emit := func(ev types.TraceEvent) error {
		mu.Lock()
		defer mu.Unlock()
		return sse.WriteTrace(ev)
	}

	done := make(chan struct{})
	var status types.JobStatus
	var followErr error
	go func() {
		defer close(done)
		status, followErr = s.followTrace(ctx, job, after, emit)
	}()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			if followErr != nil {
				if ctx.Err() == nil {
					s.logger.Warn("trace stream failed", "job_id", job.ID, "error", followErr)
					sse.WriteError("stream interrupted")
				}
				return
			}
			sse.WriteComplete(job.ID.String(), status)
			return
		case <-ticker.C:
			mu.Lock()
			err := sse.WriteKeepAlive()
			mu.Unlock()
			if err != nil {
				cancel()
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const wsWriteWait = 10 * time.Second

// StreamMessage is one websocket frame of a trace stream
type StreamMessage struct {
	Type   string            `json:"type"`
	Event  *types.TraceEvent `json:"event,omitempty"`
	Status types.JobStatus   `json:"status,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Websocket frame types
const (
	MessageTrace    = "trace"
	MessageComplete = "complete"
	MessageError    = "error"
)

// handleWebSocket streams a job's trace over a websocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	after, err := parseAfterSeq(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", job.ID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the peer going away; clients send nothing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg StreamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}

	status, err := s.followTrace(ctx, job, after, func(ev types.TraceEvent) error {
		return write(StreamMessage{Type: MessageTrace, Event: &ev})
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("trace stream failed", "job_id", job.ID, "error", err)
			_ = write(StreamMessage{Type: MessageError, Error: "stream interrupted"})
		}
		return
	}

	if err := write(StreamMessage{Type: MessageComplete, Status: status}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job "+string(status)),
		time.Now().Add(wsWriteWait))
}
