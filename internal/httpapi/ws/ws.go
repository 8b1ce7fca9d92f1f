// Package ws implements the push-channel half of the HTTP/WS Adapter
// (component P): the `connect`/`subscribe_job`/`unsubscribe_job`/
// `cancel_job`/`ping` protocol of spec §6, translating Progress
// Fan-Out events (internal/fanout) into JSON frames over a
// gorilla/websocket connection.
//
// One connection may subscribe to several jobs at once; each
// subscription gets its own forwarding goroutine that exits as soon as
// the Hub closes its channel (on Unsubscribe) or the connection's
// context is cancelled. Writes are serialized through a single pump
// goroutine, since gorilla/websocket forbids concurrent writers on one
// *websocket.Conn.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/henriquebonfim/ultradl/internal/fanout"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Canceller is the subset of the Job Manager (component H) the cancel
// path needs.
type Canceller interface {
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Handler upgrades HTTP requests to WebSocket connections and drives
// the push-channel protocol.
type Handler struct {
	jobs     Canceller
	hub      *fanout.Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// New creates a Handler. jobs is used only to service `cancel_job`;
// hub is the Progress Fan-Out every subscription reads from.
func New(jobs Canceller, hub *fanout.Hub, log *slog.Logger) *Handler {
	return &Handler{
		jobs: jobs,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Single-tenant control plane (spec §1 non-goals): the
			// push channel carries no credentials, so any origin may
			// connect the same way any client may call the REST
			// surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeHTTP upgrades the request and blocks for the lifetime of the
// connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws: upgrade failed", "err", err, "remote_ip", r.RemoteAddr)
		return
	}
	h.serveConn(r.Context(), conn)
}

// inboundMessage is the shape of every client -> server frame; unused
// fields for a given Type are simply left zero.
type inboundMessage struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (h *Handler) serveConn(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	clientID := uuid.NewString()
	outbox := make(chan any, 32)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(ctx, conn, outbox)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	subs := make(map[uuid.UUID]*fanout.Subscriber)
	defer func() {
		for _, sub := range subs {
			h.hub.Unsubscribe(sub)
		}
		cancel()
		wg.Wait()
	}()

	send := func(v any) {
		select {
		case outbox <- v:
		case <-ctx.Done():
		}
	}
	send(connectedMessage{Type: "connected", ClientID: clientID, Message: "Connected to server"})

	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			return
		}

		switch in.Type {
		case "subscribe_job":
			id, err := uuid.Parse(in.JobID)
			if err != nil {
				send(errorMessage{Type: "error", Message: "missing or invalid job_id"})
				continue
			}
			if _, already := subs[id]; already {
				send(subscribedMessage{Type: "subscribed", JobID: in.JobID, Message: "Subscribed to job " + in.JobID})
				continue
			}
			sub := h.hub.Subscribe(id)
			subs[id] = sub
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.forward(ctx, sub, outbox)
			}()
			h.log.Info("ws: client subscribed", "client_id", clientID, "job_id", id)
			send(subscribedMessage{Type: "subscribed", JobID: in.JobID, Message: "Subscribed to job " + in.JobID})

		case "unsubscribe_job":
			id, err := uuid.Parse(in.JobID)
			if err != nil {
				send(errorMessage{Type: "error", Message: "missing or invalid job_id"})
				continue
			}
			if sub, ok := subs[id]; ok {
				h.hub.Unsubscribe(sub)
				delete(subs, id)
			}
			h.log.Info("ws: client unsubscribed", "client_id", clientID, "job_id", id)
			send(unsubscribedMessage{Type: "unsubscribed", JobID: in.JobID, Message: "Unsubscribed from job " + in.JobID})

		case "cancel_job":
			id, err := uuid.Parse(in.JobID)
			if err != nil {
				send(errorMessage{Type: "error", Message: "missing or invalid job_id"})
				continue
			}
			if err := h.jobs.Cancel(ctx, id); err != nil {
				send(errorMessage{Type: "error", Message: "failed to cancel job: " + err.Error()})
				continue
			}
			h.log.Info("ws: client cancelled job", "client_id", clientID, "job_id", id)
			// Broadcast to every subscriber of the room (including this
			// client, if subscribed) — the orchestrator never sees this
			// job again, so the Hub publish here is the only terminal
			// event the room receives for a client-initiated cancel.
			h.hub.Publish(ctx, fanout.Event{Type: fanout.EventCancelled, JobID: id, At: time.Now().UTC(), Payload: fanout.CancelledPayload{}})

		case "ping":
			send(pongMessage{Type: "pong", Timestamp: in.Timestamp})

		default:
			send(errorMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

// forward copies sub's events onto outbox, translated to their wire
// shape, until sub's channel closes (Unsubscribe) or ctx is cancelled.
func (h *Handler) forward(ctx context.Context, sub *fanout.Subscriber, outbox chan<- any) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			msg := toWire(ev)
			if msg == nil {
				continue
			}
			select {
			case outbox <- msg:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// writePump is the one goroutine allowed to call conn.WriteJSON,
// interleaving queued outbound frames with a periodic ping so
// intermediaries don't reap an idle connection.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, outbox <-chan any) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-outbox:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
