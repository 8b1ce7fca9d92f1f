package ws_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/henriquebonfim/ultradl/internal/fanout"
	"github.com/henriquebonfim/ultradl/internal/httpapi/ws"
)

type fakeCanceller struct {
	cancelled []uuid.UUID
	err       error
}

func (f *fakeCanceller) Cancel(ctx context.Context, id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func newTestServer(t *testing.T, jobs ws.Canceller, hub *fanout.Hub) (*httptest.Server, string) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := ws.New(jobs, hub, log)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestConnectSendsConnectedMessage(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := fanout.New(4, log)
	srv, url := newTestServer(t, &fakeCanceller{}, hub)
	_ = srv
	conn := dial(t, url)

	msg := readMessage(t, conn)
	if msg["type"] != "connected" {
		t.Fatalf("got %+v, want type=connected", msg)
	}
	if _, ok := msg["client_id"]; !ok {
		t.Fatalf("connected message missing client_id: %+v", msg)
	}
}

func TestSubscribeReceivesRoomEvents(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := fanout.New(4, log)
	_, url := newTestServer(t, &fakeCanceller{}, hub)
	conn := dial(t, url)
	readMessage(t, conn) // connected

	jobID := uuid.New()
	if err := conn.WriteJSON(map[string]string{"type": "subscribe_job", "job_id": jobID.String()}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	sub := readMessage(t, conn)
	if sub["type"] != "subscribed" || sub["job_id"] != jobID.String() {
		t.Fatalf("got %+v, want subscribed for %s", sub, jobID)
	}

	// No wait is needed before publishing: the server registers the
	// subscription before it sends the "subscribed" reply read above.
	hub.Publish(context.Background(), fanout.Event{
		Type: fanout.EventProgress, JobID: jobID,
		Payload: fanout.ProgressPayload{Percentage: 42, Phase: "downloading"},
	})

	progress := readMessage(t, conn)
	if progress["type"] != "job_progress" {
		t.Fatalf("got %+v, want job_progress", progress)
	}
	payload, ok := progress["progress"].(map[string]any)
	if !ok || payload["percentage"] != float64(42) {
		t.Fatalf("got %+v, want percentage 42", progress)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := fanout.New(4, log)
	_, url := newTestServer(t, &fakeCanceller{}, hub)
	conn := dial(t, url)
	readMessage(t, conn) // connected

	jobID := uuid.New()
	conn.WriteJSON(map[string]string{"type": "subscribe_job", "job_id": jobID.String()})
	readMessage(t, conn) // subscribed

	conn.WriteJSON(map[string]string{"type": "unsubscribe_job", "job_id": jobID.String()})
	unsub := readMessage(t, conn)
	if unsub["type"] != "unsubscribed" {
		t.Fatalf("got %+v, want unsubscribed", unsub)
	}

	if got := hub.RoomSize(jobID); got != 0 {
		t.Fatalf("room should be empty after unsubscribe, got %d", got)
	}
}

func TestCancelJobCallsManagerAndBroadcasts(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := fanout.New(4, log)
	canceller := &fakeCanceller{}
	_, url := newTestServer(t, canceller, hub)
	conn := dial(t, url)
	readMessage(t, conn) // connected

	jobID := uuid.New()
	conn.WriteJSON(map[string]string{"type": "subscribe_job", "job_id": jobID.String()})
	readMessage(t, conn) // subscribed

	conn.WriteJSON(map[string]string{"type": "cancel_job", "job_id": jobID.String()})

	cancelledEv := readMessage(t, conn)
	if cancelledEv["type"] != "job_cancelled" {
		t.Fatalf("got %+v, want job_cancelled", cancelledEv)
	}
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != jobID {
		t.Fatalf("Cancel was not invoked with %s: %+v", jobID, canceller.cancelled)
	}
}

func TestPingReturnsPongWithTimestamp(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := fanout.New(4, log)
	_, url := newTestServer(t, &fakeCanceller{}, hub)
	conn := dial(t, url)
	readMessage(t, conn) // connected

	conn.WriteJSON(map[string]string{"type": "ping", "timestamp": "123456"})
	pong := readMessage(t, conn)
	if pong["type"] != "pong" || pong["timestamp"] != "123456" {
		t.Fatalf("got %+v, want pong echoing timestamp", pong)
	}
}

func TestSubscribeWithMissingJobIDReturnsError(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := fanout.New(4, log)
	_, url := newTestServer(t, &fakeCanceller{}, hub)
	conn := dial(t, url)
	readMessage(t, conn) // connected

	conn.WriteJSON(map[string]string{"type": "subscribe_job"})
	errMsg := readMessage(t, conn)
	if errMsg["type"] != "error" {
		t.Fatalf("got %+v, want error", errMsg)
	}
}
