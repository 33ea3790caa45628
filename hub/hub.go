package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waello/ozeshare/model"
)

const defaultFwdTimeout = time.Second

// Hub fans envelopes out to the wires attached to a room. It knows nothing
// about event semantics: routing decisions are made by the service.
type Hub struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	rooms  map[string]map[string]model.Wire
}

func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "hub").Logger(),
		mx:     &sync.RWMutex{},
		rooms:  make(map[string]map[string]model.Wire),
	}
}

// Attach adds a user's wire to a room.
func (h *Hub) Attach(roomID, userID string, wire model.Wire) {
	h.mx.Lock()
	defer func() {
		h.mx.Unlock()
		h.logger.Debug().
			Str("roomID", roomID).
			Str("userID", userID).
			Msg("wire attached")
	}()

	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[string]model.Wire)
	}
	room[userID] = wire
	h.rooms[roomID] = room
}

// Detach removes a user's wire from a room.
func (h *Hub) Detach(roomID, userID string) {
	h.mx.Lock()
	defer func() {
		h.mx.Unlock()
		h.logger.Debug().
			Str("roomID", roomID).
			Str("userID", userID).
			Msg("wire detached")
	}()

	room, ok := h.rooms[roomID]
	if ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// DropRoom detaches every wire of a room at once.
func (h *Hub) DropRoom(roomID string) {
	h.mx.Lock()
	delete(h.rooms, roomID)
	h.mx.Unlock()
	h.logger.Debug().Str("roomID", roomID).Msg("room dropped")
}

// Send delivers an envelope to a single user in a room.
func (h *Hub) Send(ctx context.Context, roomID, userID string, env model.Envelope) bool {
	logger := h.logger.With().
		Str("roomID", roomID).
		Str("event", env.Event).
		Logger()

	h.mx.RLock()
	wire, ok := h.rooms[roomID][userID]
	h.mx.RUnlock()

	if !ok {
		logger.Debug().Str("dst", userID).Msg("cannot send, dst not found")
		return false
	}
	sent, _ := send(ctx, env, userID, wire.TX, &logger)
	return sent
}

// Broadcast delivers an envelope to every user in a room except the one
// named by except (empty means everyone).
func (h *Hub) Broadcast(ctx context.Context, roomID string, env model.Envelope, except string) {
	logger := h.logger.With().
		Str("roomID", roomID).
		Str("event", env.Event).
		Logger()

	h.mx.RLock()
	room := h.rooms[roomID]
	wires := make(map[string]model.Wire, len(room))
	for dst, wire := range room {
		wires[dst] = wire
	}
	h.mx.RUnlock()

	var reached bool
	for dst, wire := range wires {
		if dst == except {
			continue
		}
		sent, canceled := send(ctx, env, dst, wire.TX, &logger)
		if canceled {
			return
		}
		if sent {
			reached = true
		}
	}
	if !reached {
		logger.Debug().Msg("broadcast did not reach anyone")
	}
}

func send(ctx context.Context, env model.Envelope, dst string, tx chan<- model.Envelope, logger *zerolog.Logger) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Str("dst", dst).Msg("dead endpoint")
	case tx <- env:
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
