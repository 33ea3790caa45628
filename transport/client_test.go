package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waello/ozeshare/model"
)

// echoServer upgrades connections, echoes every text frame back and keeps
// track of how many connections it accepted.
type echoServer struct {
	t  *testing.T
	ts *httptest.Server

	mx       sync.Mutex
	accepted int
	conns    []*websocket.Conn
	dropNext bool
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()

	es := &echoServer{t: t}
	up := &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	es.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		es.mx.Lock()
		es.accepted++
		es.conns = append(es.conns, conn)
		drop := es.dropNext
		es.dropNext = false
		es.mx.Unlock()

		if drop {
			_ = conn.Close()
			return
		}
		go func() {
			for {
				mt, msg, rErr := conn.ReadMessage()
				if rErr != nil {
					return
				}
				if wErr := conn.WriteMessage(mt, msg); wErr != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(es.ts.Close)
	return es
}

func (es *echoServer) url() string {
	return "ws" + strings.TrimPrefix(es.ts.URL, "http")
}

func (es *echoServer) acceptedCount() int {
	es.mx.Lock()
	defer es.mx.Unlock()
	return es.accepted
}

func (es *echoServer) dropNextConn() {
	es.mx.Lock()
	es.dropNext = true
	es.mx.Unlock()
}

func (es *echoServer) closeAll() {
	es.mx.Lock()
	conns := es.conns
	es.conns = nil
	es.mx.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func newTestClient(t *testing.T, url string, reconnect bool) *Client {
	t.Helper()
	logger := zerolog.Nop()
	c := NewClient(Config{
		Logger:         &logger,
		URL:            url,
		Reconnect:      reconnect,
		ReconnectDelay: 50 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c
}

func waitEnvelope(t *testing.T, c *Client, event string) model.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-c.RX():
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", event)
		}
	}
}

func TestClientConnect(t *testing.T) {
	es := newEchoServer(t)
	c := newTestClient(t, es.url(), false)

	require.Equal(t, model.StatusDisconnected, c.Status())

	c.Connect()
	waitEnvelope(t, c, model.EventConnect)
	assert.Equal(t, model.StatusConnected, c.Status())

	// Idempotent while connected.
	c.Connect()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, es.acceptedCount())
}

func TestClientSendReceive(t *testing.T) {
	es := newEchoServer(t)
	c := newTestClient(t, es.url(), false)

	c.Connect()
	waitEnvelope(t, c, model.EventConnect)

	require.NoError(t, c.Send(model.EventLocation, model.LocationUpdate{
		Position: model.Position{Lat: 1, Lng: 2},
	}))

	env := waitEnvelope(t, c, model.EventLocation)
	var upd model.LocationUpdate
	require.NoError(t, json.Unmarshal(env.Data, &upd))
	assert.Equal(t, model.Position{Lat: 1, Lng: 2}, upd.Position)
}

func TestClientSendWhileDisconnected(t *testing.T) {
	es := newEchoServer(t)
	c := newTestClient(t, es.url(), false)

	err := c.Send(model.EventPing, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, es.acceptedCount())
}

func TestClientIntentionalDisconnectNoReconnect(t *testing.T) {
	es := newEchoServer(t)
	c := newTestClient(t, es.url(), true)

	c.Connect()
	waitEnvelope(t, c, model.EventConnect)

	c.Disconnect(true)
	waitEnvelope(t, c, model.EventDisconnect)
	assert.Equal(t, model.StatusDisconnected, c.Status())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, es.acceptedCount(), "reconnect must be suppressed")
}

func TestClientReconnectsOnceAfterUnintentionalClose(t *testing.T) {
	es := newEchoServer(t)
	c := newTestClient(t, es.url(), true)

	c.Connect()
	waitEnvelope(t, c, model.EventConnect)

	es.closeAll()
	waitEnvelope(t, c, model.EventDisconnect)
	waitEnvelope(t, c, model.EventConnect)

	assert.Equal(t, model.StatusConnected, c.Status())
	assert.Equal(t, 2, es.acceptedCount())

	// The second connection is healthy: no further attempts.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, es.acceptedCount())
}

func TestClientReconnectDisabled(t *testing.T) {
	es := newEchoServer(t)
	c := newTestClient(t, es.url(), false)

	c.Connect()
	waitEnvelope(t, c, model.EventConnect)

	es.closeAll()
	waitEnvelope(t, c, model.EventDisconnect)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, es.acceptedCount())
	assert.Equal(t, model.StatusDisconnected, c.Status())
}

func TestClientRecoversFromDroppedReconnect(t *testing.T) {
	es := newEchoServer(t)
	c := newTestClient(t, es.url(), true)

	c.Connect()
	waitEnvelope(t, c, model.EventConnect)

	// First reconnect attempt is immediately dropped by the server, the
	// next scheduled attempt lands.
	es.dropNextConn()
	es.closeAll()

	waitEnvelope(t, c, model.EventDisconnect)
	waitEnvelope(t, c, model.EventConnect)
	waitEnvelope(t, c, model.EventDisconnect)
	waitEnvelope(t, c, model.EventConnect)

	assert.Equal(t, model.StatusConnected, c.Status())
	assert.Equal(t, 3, es.acceptedCount())
}

func TestClientDialFailure(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/ws", false)

	c.Connect()
	waitEnvelope(t, c, model.EventDisconnect)
	assert.Equal(t, model.StatusError, c.Status())
}
