package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer accepts WebSocket sessions and hands each one to serve.
func wsTestServer(t *testing.T, serve func(session int, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var (
		mu       sync.Mutex
		sessions int
	)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		sessions++
		n := sessions
		mu.Unlock()
		serve(n, conn)
	}))
}

func wsURLFor(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClientReconnectKeepsNewSessionAlive(t *testing.T) {
	const book = `{"event_type":"book","asset_id":"tok-yes",` +
		`"bids":[{"price":"0.45","size":"100"}],` +
		`"asks":[{"price":"0.47","size":"80"}],"timestamp":"1700000000000"}`

	var (
		mu           sync.Mutex
		sessionCount int
	)
	srv := wsTestServer(t, func(session int, conn *websocket.Conn) {
		mu.Lock()
		sessionCount = session
		mu.Unlock()

		if session == 1 {
			// Accept the subscription, then drop the session to force a
			// reconnect.
			var cmd WSCommand
			_ = conn.ReadJSON(&cmd)
			conn.Close()
			return
		}

		// Later sessions expect the replayed subscription, answer with a
		// book snapshot, and then stay open until the peer closes.
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		assert.Equal(t, "subscribe", cmd.Type)
		assert.Equal(t, []string{"tok-yes"}, cmd.Assets)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(book))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	client := NewWSClient(wsURLFor(srv))
	client.reconnectBase = 10 * time.Millisecond
	defer client.Close()

	delivered := make(chan BookTop, 1)
	client.OnBookUpdate(func(top BookTop) {
		select {
		case delivered <- top:
		default:
		}
	})

	require.NoError(t, client.Subscribe([]string{"tok-yes"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	select {
	case top := <-delivered:
		assert.Equal(t, "tok-yes", top.TokenID)
		assert.InDelta(t, 0.47, top.BestAsk, 1e-9)
		assert.InDelta(t, 0.45, top.BestBid, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("no book update delivered after reconnect")
	}

	// The reconnected session must stay up. A stale readLoop closing its
	// successor's connection would show here as session churn.
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, sessionCount, "reconnected session was torn down")
	mu.Unlock()
}

func TestWSClientCloseStopsReconnecting(t *testing.T) {
	var (
		mu           sync.Mutex
		sessionCount int
	)
	srv := wsTestServer(t, func(session int, conn *websocket.Conn) {
		mu.Lock()
		sessionCount = session
		mu.Unlock()
		conn.Close()
	})
	defer srv.Close()

	client := NewWSClient(wsURLFor(srv))
	client.reconnectBase = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Close())

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	seen := sessionCount
	mu.Unlock()

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, seen, sessionCount, "client kept dialing after Close")
	mu.Unlock()
}
