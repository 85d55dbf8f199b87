// Package httpapi implements the HTTP Surface external collaborator:
// a small REST+websocket front end operators use to read and write
// document fields and observe membership changes.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/criticalstack/swimkv/pkg/broadcast"
	"github.com/criticalstack/swimkv/pkg/log"
	"github.com/criticalstack/swimkv/pkg/runtime"
)

// DocumentStore is the subset of the Document Store the HTTP surface
// reads and writes through.
type DocumentStore interface {
	GetField(name string) (string, bool)
	SetField(name, value string)
	Snapshot() []byte
}

// Broadcaster is the subset of the Runtime Actor the HTTP surface
// drives: originate a new broadcast after a local write and list live
// members.
type Broadcaster interface {
	SendBroadcast(tag broadcast.Tag, msg *broadcast.GossipMessage)
	Addresses() []string
}

// EventSource additionally exposes membership event subscription for
// the /state/events websocket stream.
type EventSource interface {
	Subscribe(ch chan runtime.Event)
	Unsubscribe(ch chan runtime.Event)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the Document Store and Runtime Actor behind the routes
// spec.md §4.6 defines, plus the supplemented members/events routes.
type Server struct {
	store       DocumentStore
	broadcaster Broadcaster
	events      EventSource
	limiter     *rate.Limiter
	mux         *http.ServeMux
}

// New builds a Server. putRate bounds how many PUT /state/{field}
// requests per second are accepted before returning 429, per spec.md
// §5's note that HTTP writes are rate-limited by operators.
func New(store DocumentStore, broadcaster Broadcaster, events EventSource, putRate rate.Limit) *Server {
	s := &Server{
		store:       store,
		broadcaster: broadcaster,
		events:      events,
		limiter:     rate.NewLimiter(putRate, int(putRate)+1),
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /hello", s.handleHello)
	s.mux.HandleFunc("GET /state/members", s.handleMembers)
	s.mux.HandleFunc("GET /state/events", s.handleEvents)
	s.mux.HandleFunc("GET /state/{field}", s.handleGetField)
	s.mux.HandleFunc("PUT /state/{field}", s.handleSetField)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Hello world!\r\n")
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	value, ok := s.store.GetField(field)
	if !ok {
		value = "N/A"
	} else {
		value = fmt.Sprintf("%q", value)
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s: %s", field, value)
}

type setFieldRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "too many writes", http.StatusTooManyRequests)
		return
	}

	var req setFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	field := r.PathValue("field")
	s.store.SetField(field, req.Value)

	msg := &broadcast.GossipMessage{MessageType: broadcast.FullSync, Payload: s.store.Snapshot()}
	s.broadcaster.SendBroadcast(broadcast.SyncOperation(uuid.New()), msg)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	addrs := s.broadcaster.Addresses()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(addrs); err != nil {
		log.Error("cannot encode members response", zap.Error(err))
	}
}

// handleEvents streams membership events (member-up/member-down) as
// newline-delimited JSON frames over a websocket connection until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("cannot upgrade events connection", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := make(chan runtime.Event, 16)
	s.events.Subscribe(ch)
	defer s.events.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardIncoming(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// discardIncoming reads and drops client frames so the websocket
// connection's read side stays serviced and close frames are noticed.
func discardIncoming(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
