package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cgast/jobproto/internal/store"
	"github.com/cgast/jobproto/pkg/events"
)

// History lists stored compile runs, newest first.
type History interface {
	List(limit int) ([]*store.Record, error)
}

// Server is the serve-mode HTTP endpoint: Prometheus metrics, pipeline
// status, event history with a live SSE stream, and stored compile runs.
type Server struct {
	bus       events.EventBus
	history   History
	logger    *zap.Logger
	mux       *http.ServeMux
	clients   map[*sseClient]bool
	clientsMu sync.Mutex
	startTime time.Time
}

type sseClient struct {
	send chan []byte
}

// New creates an inspector server. history and metrics may be nil.
func New(bus events.EventBus, history History, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		bus:       bus,
		history:   history,
		logger:    logger,
		mux:       http.NewServeMux(),
		clients:   make(map[*sseClient]bool),
		startTime: time.Now(),
	}

	if metrics != nil {
		s.mux.Handle("/metrics", metrics)
	}
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/events/stream", s.handleStream)
	s.mux.HandleFunc("/api/history", s.handleHistory)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on addr and forwards bus events to stream clients until ctx
// is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)
	go s.broadcastEvents(ch)

	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) broadcastEvents(ch <-chan events.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}

		s.clientsMu.Lock()
		for client := range s.clients {
			select {
			case client.send <- data:
			default:
				// Client is slow, drop the event.
			}
		}
		s.clientsMu.Unlock()
	}
}

// handleStream sends the event history followed by live events as
// Server-Sent Events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{send: make(chan []byte, 64)}

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
	}()

	for _, ev := range s.bus.History(time.Time{}) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-client.send:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	history := s.bus.History(time.Time{})
	counts := make(map[events.EventType]int)
	for _, ev := range history {
		counts[ev.Type]++
	}

	writeJSON(w, map[string]any{
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
		"events":   len(history),
		"compiled": counts[events.EventProtocolCompiled],
		"rejected": counts[events.EventProtocolRejected],
		"failed":   counts[events.EventRenderFailed] + counts[events.EventMergeFailed],
	})
}

// handleEvents returns the event history, optionally only events after the
// RFC 3339 time in ?since=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			http.Error(w, "invalid since: "+err.Error(), http.StatusBadRequest)
			return
		}
		since = t
	}
	history := s.bus.History(since)
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, history)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history is disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.List(limit)
	if err != nil {
		s.logger.Error("list history", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	summaries := make([]store.Summary, len(records))
	for i, rec := range records {
		summaries[i] = rec.Summary()
	}
	writeJSON(w, summaries)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
