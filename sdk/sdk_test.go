package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Soika-Labs/gann-sdk-go/internal/wire"
)

type fakeDirectory struct {
	t *testing.T

	gotToken   string
	frames     chan []byte
	serverSend chan []byte
}

func newFakeDirectory(t *testing.T) (*fakeDirectory, *httptest.Server) {
	fd := &fakeDirectory{
		t:          t,
		frames:     make(chan []byte, 16),
		serverSend: make(chan []byte, 16),
	}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/.gann/ws/token", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(fd.t, "key-1", r.Header.Get("GANN-API-KEY"))
		expires := time.Now().Add(5 * time.Minute).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, `{"token":"tok-abc","expires_at":%q}`, expires)
	})
	mux.HandleFunc("/.gann/ws", func(w http.ResponseWriter, r *http.Request) {
		fd.gotToken = r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(fd.t, err)
		go func() {
			for frame := range fd.serverSend {
				_ = conn.WriteMessage(websocket.TextMessage, frame)
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fd.frames <- data
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fd, srv
}

func TestOpenChannelAndSend(t *testing.T) {
	fd, srv := newFakeDirectory(t)

	client, err := New(srv.URL, "key-1", "agent-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel, err := client.OpenChannel(ctx)
	require.NoError(t, err)
	defer channel.Close(0, "test done")

	require.Equal(t, "tok-abc", fd.gotToken, "socket URL must carry the minted token")
	require.Equal(t, "tok-abc", channel.Token())

	require.NoError(t, channel.DisconnectSession("b2b0a1de-0000-4000-8000-000000000001", "peer-B", "bye"))

	select {
	case frame := <-fd.frames:
		cmd, err := wire.ParseCommand(frame)
		require.NoError(t, err)
		require.Equal(t, wire.KindDisconnect, cmd.Payload.Kind)
		require.Equal(t, "peer-B", cmd.To)
	case <-time.After(3 * time.Second):
		t.Fatal("directory never received the command frame")
	}
}

func TestChannelReceivesBroadcasts(t *testing.T) {
	fd, srv := newFakeDirectory(t)

	client, err := New(srv.URL, "key-1", "agent-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel, err := client.OpenChannel(ctx)
	require.NoError(t, err)
	defer channel.Close(0, "test done")

	got := make(chan *SignalingEvent, 1)
	channel.OnSignaling(func(evt *SignalingEvent) { got <- evt })

	fd.serverSend <- []byte(`{"event":"signaling","payload":{
		"session_id":"11111111-2222-4333-8444-555555555555","from":"peer-A","to":"agent-1",
		"payload":{"kind":"disconnect","reason":"peer left"}}}`)

	select {
	case evt := <-got:
		require.Equal(t, wire.KindDisconnect, evt.Payload.Kind)
		require.Equal(t, "peer left", evt.Payload.Reason)
		require.Equal(t, "peer-A", evt.From)
	case <-time.After(3 * time.Second):
		t.Fatal("signaling broadcast never reached the channel")
	}
}

func TestHeartbeatLoopReportsAndStops(t *testing.T) {
	beats := make(chan map[string]any, 16)
	mux := http.NewServeMux()
	mux.HandleFunc("/.gann/agents/agent-1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		beats <- body
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := New(srv.URL, "key-1", "agent-1")
	require.NoError(t, err)

	stop := client.StartHeartbeat(30*time.Millisecond, func() float64 { return 0.5 })

	select {
	case beat := <-beats:
		require.Equal(t, 0.5, beat["load"])
		require.Equal(t, "online", beat["status"])
	case <-time.After(3 * time.Second):
		t.Fatal("no heartbeat arrived")
	}

	stop()
	// Drain anything in flight, then confirm the loop stays quiet.
	for len(beats) > 0 {
		<-beats
	}
	select {
	case <-beats:
		t.Fatal("heartbeat fired after stop")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New("https://x", "key", "  ")
	require.Error(t, err)
	_, err = New("  ", "key", "agent-1")
	require.Error(t, err)
}

func TestRegisterSearchViaClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/.gann/agents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var card AgentCard
			require.NoError(t, json.NewDecoder(r.Body).Decode(&card))
			require.Equal(t, "agent-1", card.AgentID, "client fills its own id")
			json.NewEncoder(w).Encode(map[string]AgentRecord{"agent": {AgentID: card.AgentID, Name: card.Name}})
			return
		}
		json.NewEncoder(w).Encode(map[string][]AgentRecord{"agents": {}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := New(srv.URL, "key-1", "agent-1")
	require.NoError(t, err)

	record, err := client.Register(context.Background(), AgentCard{Name: "worker"})
	require.NoError(t, err)
	require.Equal(t, "agent-1", record.AgentID)

	agents, err := client.Search(context.Background(), "anything")
	require.NoError(t, err)
	require.Empty(t, agents)
}
