package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/waello/ozeshare/model"
	"github.com/waello/ozeshare/storage/memory"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session is not found")
)

type (
	// RoomStore is the room registry.
	RoomStore interface {
		CreateRoom(roomID, publisherID string, pos model.Position) *memory.Room
		GetRoom(roomID string) (*memory.Room, error)
		AddMember(roomID, userID string) (*memory.Room, error)
		RemoveMember(roomID, userID string) (*memory.Room, error)
		SetPosition(roomID string, pos model.Position) error
		RemoveRoom(roomID string)
	}

	// Fanout delivers envelopes to room members.
	Fanout interface {
		Attach(roomID, userID string, wire model.Wire)
		Detach(roomID, userID string)
		DropRoom(roomID string)
		Send(ctx context.Context, roomID, userID string, env model.Envelope) bool
		Broadcast(ctx context.Context, roomID string, env model.Envelope, except string)
	}

	// Service implements the coordination semantics: room creation and
	// takeover, joins, location relay and teardown. One session loop per
	// connected participant drains the wire's RX and dispatches events.
	Service struct {
		store  RoomStore
		fanout Fanout
		logger zerolog.Logger

		mx       sync.Mutex
		sessions map[string]*sess
	}

	Config struct {
		RoomStore RoomStore
		Fanout    Fanout
		Logger    *zerolog.Logger
	}

	sess struct {
		userID    string
		wire      model.Wire
		roomID    string
		publisher bool
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:    cfg.RoomStore,
		fanout:   cfg.Fanout,
		logger:   cfg.Logger.With().Str("component", "service").Logger(),
		sessions: make(map[string]*sess),
	}
}

// GetRoom exposes the registry for the HTTP API.
func (svc *Service) GetRoom(roomID string) (*memory.Room, error) {
	return svc.store.GetRoom(roomID)
}

// CreateSession registers a participant and starts its dispatch loop.
func (svc *Service) CreateSession(ctx context.Context, userID string, wire model.Wire) error {
	svc.mx.Lock()
	if _, ok := svc.sessions[userID]; ok {
		svc.mx.Unlock()
		return ErrSessionExists
	}
	s := &sess{userID: userID, wire: wire}
	svc.sessions[userID] = s
	svc.mx.Unlock()

	svc.logger.Debug().Str("userID", userID).Msg("session created")
	go svc.dispatchLoop(ctx, s)
	return nil
}

// DeleteSession removes a participant and applies leave semantics: a
// publisher's departure destroys its room, a subscriber's departure shrinks
// the membership and is announced to the remaining members.
func (svc *Service) DeleteSession(ctx context.Context, userID string) error {
	svc.mx.Lock()
	s, ok := svc.sessions[userID]
	if !ok {
		svc.mx.Unlock()
		return ErrSessionNotFound
	}
	delete(svc.sessions, userID)
	roomID, publisher := s.roomID, s.publisher
	svc.mx.Unlock()

	if roomID != "" {
		if publisher {
			svc.destroyRoom(ctx, roomID, userID)
		} else {
			svc.leaveRoom(ctx, roomID, userID)
		}
	}
	svc.logger.Debug().Str("userID", userID).Msg("session deleted")
	return nil
}

func (svc *Service) dispatchLoop(ctx context.Context, s *sess) {
	logger := svc.logger.With().Str("userID", s.userID).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.wire.RX:
			switch env.Event {
			case model.EventCreateRoom:
				svc.handleCreateRoom(ctx, s, env.Data, &logger)
			case model.EventJoinRoom:
				svc.handleJoinRoom(ctx, s, env.Data, &logger)
			case model.EventLocation:
				svc.handleLocation(ctx, s, env.Data, &logger)
			case model.EventPing:
				// Keep-warm only.
			default:
				logger.Debug().Str("event", env.Event).Msg("unknown event")
			}
		}
	}
}

func (svc *Service) handleCreateRoom(ctx context.Context, s *sess, data json.RawMessage, logger *zerolog.Logger) {
	var req model.CreateRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Error().Err(err).Msg("bad createRoom payload")
		return
	}
	if req.RoomCode == "" {
		logger.Warn().Msg("createRoom without room code")
		return
	}

	// Same code again means the previous publisher lost the room: tear the
	// old one down before registering the new.
	if _, err := svc.store.GetRoom(req.RoomCode); err == nil {
		svc.destroyRoom(ctx, req.RoomCode, "")
	}

	var pos model.Position
	if req.Position != nil {
		pos = *req.Position
	}
	room := svc.store.CreateRoom(req.RoomCode, s.userID, pos)

	svc.mx.Lock()
	s.roomID = room.ID
	s.publisher = true
	svc.mx.Unlock()

	svc.fanout.Attach(room.ID, s.userID, s.wire)
	svc.reply(ctx, s, model.EventRoomCreated, room.Info(), logger)
	logger.Debug().Str("roomID", room.ID).Msg("room created")
}

func (svc *Service) handleJoinRoom(ctx context.Context, s *sess, data json.RawMessage, logger *zerolog.Logger) {
	var req model.JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Error().Err(err).Msg("bad joinRoom payload")
		return
	}

	room, err := svc.store.AddMember(req.RoomID, s.userID)
	if err != nil {
		logger.Debug().Err(err).Str("roomID", req.RoomID).Msg("join rejected")
		svc.reply(ctx, s, model.EventRoomJoined,
			model.JoinRoomResponse{Status: model.JoinStatusError}, logger)
		return
	}

	svc.mx.Lock()
	s.roomID = room.ID
	s.publisher = false
	svc.mx.Unlock()

	svc.fanout.Attach(room.ID, s.userID, s.wire)

	pos := room.Position
	svc.reply(ctx, s, model.EventRoomJoined,
		model.JoinRoomResponse{Status: model.JoinStatusOK, Position: &pos}, logger)

	ann, err := model.NewEnvelope(model.EventUserJoined, model.MembershipChange{
		UserID:              s.userID,
		TotalConnectedUsers: room.Members,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to build userJoinedRoom")
		return
	}
	svc.fanout.Broadcast(ctx, room.ID, ann, s.userID)
	logger.Debug().Str("roomID", room.ID).Msg("user joined room")
}

func (svc *Service) handleLocation(ctx context.Context, s *sess, data json.RawMessage, logger *zerolog.Logger) {
	var upd model.LocationUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		logger.Error().Err(err).Msg("bad updateLocation payload")
		return
	}

	svc.mx.Lock()
	roomID, publisher := s.roomID, s.publisher
	svc.mx.Unlock()
	if roomID == "" {
		return
	}

	if publisher {
		if err := svc.store.SetPosition(roomID, upd.Position); err != nil {
			logger.Debug().Err(err).Msg("failed to store position")
		}
	}

	// Sender identity is assigned from the session, never trusted from the
	// payload.
	relay, err := model.NewEnvelope(model.EventLocationSent, model.LocationUpdate{
		UserID:   s.userID,
		Position: upd.Position,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to build updateLocationResponse")
		return
	}
	svc.fanout.Broadcast(ctx, roomID, relay, s.userID)
}

func (svc *Service) destroyRoom(ctx context.Context, roomID, except string) {
	env, err := model.NewEnvelope(model.EventRoomDestroy, struct{}{})
	if err == nil {
		svc.fanout.Broadcast(ctx, roomID, env, except)
	}
	svc.fanout.DropRoom(roomID)
	svc.store.RemoveRoom(roomID)

	// Detach remaining sessions from the dead room so their own departure
	// does not touch it again.
	svc.mx.Lock()
	for _, other := range svc.sessions {
		if other.roomID == roomID {
			other.roomID = ""
			other.publisher = false
		}
	}
	svc.mx.Unlock()

	svc.logger.Debug().Str("roomID", roomID).Msg("room destroyed")
}

func (svc *Service) leaveRoom(ctx context.Context, roomID, userID string) {
	svc.fanout.Detach(roomID, userID)

	room, err := svc.store.RemoveMember(roomID, userID)
	if err != nil {
		svc.logger.Debug().Err(err).Str("roomID", roomID).Msg("leave without membership")
		return
	}

	ann, err := model.NewEnvelope(model.EventUserLeft, model.MembershipChange{
		UserID:              userID,
		TotalConnectedUsers: room.Members,
	})
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to build userLeftRoom")
		return
	}
	svc.fanout.Broadcast(ctx, roomID, ann, userID)
	svc.logger.Debug().
		Str("userID", userID).
		Str("roomID", roomID).
		Msg("user left room")
}

func (svc *Service) reply(ctx context.Context, s *sess, event string, payload any, logger *zerolog.Logger) {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("failed to build reply")
		return
	}
	select {
	case <-ctx.Done():
	case s.wire.TX <- env:
	}
}
