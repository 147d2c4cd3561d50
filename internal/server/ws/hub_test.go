package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

type fakeBus struct {
	ch     chan []byte
	stream []domain.StreamMessage
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if m.ID > lastID {
			out = append(out, m)
		}
	}
	return out, nil
}

func eventPayload(t *testing.T, kind domain.EventKind, matchID uint64) []byte {
	t.Helper()
	data, err := json.Marshal(domain.EventMessage{
		TxID:  domain.Hash{byte(matchID)},
		Op:    domain.OpCreateMatch,
		Event: domain.Event{Kind: kind, MatchID: matchID, Amount: 10_000_000},
	})
	require.NoError(t, err)
	return data
}

func startHub(t *testing.T, bus *fakeBus) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server", ProgramID: domain.Address{0xe5}})
	go func() { _ = hub.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &s))
	return s.AsMap()
}

func TestHubRelaysFilteredEvents(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 8)}
	hub, url := startHub(t, bus)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?match_id=1", nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readFrame(t, conn)
	assert.Equal(t, "hub_status", status["type"])
	assert.Equal(t, "server", status["mode"])
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	bus.ch <- eventPayload(t, domain.EventMatchCreated, 2)
	bus.ch <- []byte("not json")
	bus.ch <- eventPayload(t, domain.EventMatchJoined, 1)

	frame := readFrame(t, conn)
	assert.Equal(t, "event", frame["type"])
	ev, ok := frame["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "match_joined", ev["kind"])
	assert.Equal(t, float64(1), ev["match_id"])
}

func TestHubSubscriptionUpdates(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 8)}
	hub, url := startHub(t, bus)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?event=match_settled", nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "reset"}))
	// Filter updates are applied asynchronously by the read pump.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return c.accepts(domain.EventMessage{Event: domain.Event{Kind: domain.EventMatchCreated}})
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	bus.ch <- eventPayload(t, domain.EventMatchCreated, 7)
	frame := readFrame(t, conn)
	ev := frame["event"].(map[string]any)
	assert.Equal(t, "match_created", ev["kind"])
}

func TestHubReplaysStream(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 8)}
	bus.stream = []domain.StreamMessage{
		{ID: "1-0", Payload: eventPayload(t, domain.EventMatchCreated, 1)},
		{ID: "2-0", Payload: eventPayload(t, domain.EventMatchCreated, 2)},
		{ID: "3-0", Payload: eventPayload(t, domain.EventMatchJoined, 2)},
	}
	_, url := startHub(t, bus)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?since=1-0&match_id=2", nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame(t, conn)
	first := readFrame(t, conn)
	second := readFrame(t, conn)
	assert.Equal(t, "2-0", first["stream_id"])
	assert.Equal(t, true, first["replay"])
	assert.Equal(t, "3-0", second["stream_id"])
}

func TestHandleWSAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(&fakeBus{ch: make(chan []byte)}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})
	stopped := make(chan error, 1)
	go func() { stopped <- hub.Run(ctx) }()
	cancel()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	returned := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		defer close(returned)
		hub.HandleWS(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("HandleWS blocked after the hub stopped")
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestFilterAccepts(t *testing.T) {
	msg := domain.EventMessage{Event: domain.Event{Kind: domain.EventMatchSettled, MatchID: 3}}
	tests := []struct {
		name string
		f    filter
		want bool
	}{
		{"empty", filter{}, true},
		{"match hit", filter{matches: map[uint64]bool{3: true}}, true},
		{"match miss", filter{matches: map[uint64]bool{4: true}}, false},
		{"kind hit", filter{kinds: map[domain.EventKind]bool{domain.EventMatchSettled: true}}, true},
		{"kind miss", filter{kinds: map[domain.EventKind]bool{domain.EventFeesWithdrawn: true}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.accepts(msg))
		})
	}
}
