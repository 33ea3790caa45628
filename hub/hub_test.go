package hub

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waello/ozeshare/model"
)

func newTestHub() *Hub {
	logger := zerolog.Nop()
	return NewHub(&logger)
}

func attach(h *Hub, roomID, userID string) model.Wire {
	wire := model.Wire{
		RX: make(chan model.Envelope, 4),
		TX: make(chan model.Envelope, 4),
	}
	h.Attach(roomID, userID, wire)
	return wire
}

func TestSend(t *testing.T) {
	h := newTestHub()
	w1 := attach(h, "room", "u1")
	w2 := attach(h, "room", "u2")

	env := model.Envelope{Event: model.EventRoomJoined}
	require.True(t, h.Send(context.Background(), "room", "u1", env))

	select {
	case got := <-w1.TX:
		assert.Equal(t, env.Event, got.Event)
	case <-time.After(time.Second):
		t.Fatal("u1 did not receive the envelope")
	}
	assert.Empty(t, w2.TX)
}

func TestSendUnknownDst(t *testing.T) {
	h := newTestHub()
	attach(h, "room", "u1")

	assert.False(t, h.Send(context.Background(), "room", "nope", model.Envelope{}))
	assert.False(t, h.Send(context.Background(), "other", "u1", model.Envelope{}))
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := newTestHub()
	w1 := attach(h, "room", "u1")
	w2 := attach(h, "room", "u2")
	w3 := attach(h, "room", "u3")

	env := model.Envelope{Event: model.EventLocationSent}
	h.Broadcast(context.Background(), "room", env, "u1")

	assert.Empty(t, w1.TX)
	for _, wire := range []model.Wire{w2, w3} {
		select {
		case got := <-wire.TX:
			assert.Equal(t, env.Event, got.Event)
		case <-time.After(time.Second):
			t.Fatal("broadcast did not reach a member")
		}
	}
}

func TestBroadcastAfterDetach(t *testing.T) {
	h := newTestHub()
	w1 := attach(h, "room", "u1")
	w2 := attach(h, "room", "u2")
	h.Detach("room", "u2")

	h.Broadcast(context.Background(), "room", model.Envelope{Event: model.EventPing}, "")

	assert.Empty(t, w2.TX)
	select {
	case <-w1.TX:
	case <-time.After(time.Second):
		t.Fatal("remaining member did not receive the broadcast")
	}
}

func TestDropRoom(t *testing.T) {
	h := newTestHub()
	w1 := attach(h, "room", "u1")
	h.DropRoom("room")

	h.Broadcast(context.Background(), "room", model.Envelope{Event: model.EventPing}, "")
	assert.Empty(t, w1.TX)
}

func TestBroadcastCanceledContext(t *testing.T) {
	h := newTestHub()
	// Unbuffered wire with no reader: the send can only end via ctx.
	wire := model.NewWire()
	h.Attach("room", "u1", wire)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		h.Broadcast(ctx, "room", model.Envelope{Event: model.EventPing}, "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast did not honor cancellation")
	}
}
