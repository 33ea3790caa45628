package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/waello/ozeshare/geo"
	"github.com/waello/ozeshare/model"
	"github.com/waello/ozeshare/session"
	"github.com/waello/ozeshare/transport"
)

var (
	ErrNoRoomCode            = errors.New("room code is required")
	ErrLocationNotAccessible = errors.New("location is not accessible")
	ErrAlreadySharing        = errors.New("already sharing")
	ErrSourceWatch           = errors.New("unable to watch position source")
)

const noticeBuffer = 16

type (
	// Config for the publisher coordinator.
	Config struct {
		Logger  *zerolog.Logger
		Channel transport.Channel
		Source  geo.Source
	}

	// Publisher owns the publisher side of a room: it creates the room on
	// connect, tracks the server-assigned membership and re-broadcasts the
	// last known position to late joiners. All transitions happen on the
	// Run loop in response to channel events, source samples and commands.
	Publisher struct {
		logger zerolog.Logger
		ch     transport.Channel
		src    geo.Source

		mx sync.RWMutex
		st state

		notices chan session.Notice
	}

	state struct {
		connection    model.ConnectionStatus
		access        model.LocationAccessStatus
		roomCode      string
		lastPosition  *model.Position
		room          *model.RoomInfo
		userLocations []model.UserLocation
	}
)

func New(cfg Config) *Publisher {
	return &Publisher{
		logger:  cfg.Logger.With().Str("component", "publisher").Logger(),
		ch:      cfg.Channel,
		src:     cfg.Source,
		notices: make(chan session.Notice, noticeBuffer),
		st: state{
			connection: model.StatusDisconnected,
			access:     model.AccessUnknown,
		},
	}
}

// Notices is the stream of user-facing events.
func (p *Publisher) Notices() <-chan session.Notice {
	return p.notices
}

// Snapshot returns a copy of the current session view.
func (p *Publisher) Snapshot() session.Snapshot {
	p.mx.RLock()
	defer p.mx.RUnlock()

	snap := session.Snapshot{
		Role:       session.RolePublisher,
		Connection: p.st.connection,
		Access:     p.st.access,
	}
	if p.st.lastPosition != nil {
		pos := *p.st.lastPosition
		snap.LastPosition = &pos
	}
	if p.st.room != nil {
		room := *p.st.room
		room.TotalConnectedUsers = append([]string(nil), p.st.room.TotalConnectedUsers...)
		snap.Room = &room
	}
	snap.UserLocations = append([]model.UserLocation(nil), p.st.userLocations...)
	return snap
}

// StartSharing validates preconditions and initiates the connection. The
// room-creation request is emitted once the channel reports connect.
func (p *Publisher) StartSharing(roomCode string) error {
	p.mx.Lock()
	switch {
	case p.st.access != model.AccessAccessed:
		p.mx.Unlock()
		return ErrLocationNotAccessible
	case roomCode == "":
		p.mx.Unlock()
		return ErrNoRoomCode
	case p.st.connection != model.StatusDisconnected:
		p.mx.Unlock()
		return ErrAlreadySharing
	}
	p.st.roomCode = roomCode
	p.st.connection = model.StatusConnecting
	p.mx.Unlock()

	p.logger.Debug().Str("roomCode", roomCode).Msg("starting to share")
	p.ch.Connect()
	return nil
}

// StopSharing tears the session down intentionally and clears room state.
func (p *Publisher) StopSharing() {
	p.mx.Lock()
	p.st.connection = model.StatusDisconnected
	p.st.room = nil
	p.st.roomCode = ""
	p.st.userLocations = nil
	p.mx.Unlock()

	p.ch.Disconnect(true)
	p.notify(session.NoticeSuccess, "You are no longer live!")
	p.logger.Debug().Msg("stopped sharing")
}

// Run processes channel events and position samples until ctx is done.
// The position-source subscription is released when Run returns.
func (p *Publisher) Run(ctx context.Context) error {
	samples, err := p.src.Watch(ctx)
	if err != nil {
		return errors.Join(ErrSourceWatch, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			p.handleSample(upd)
		case env, ok := <-p.ch.RX():
			if !ok {
				return nil
			}
			p.handleEnvelope(env)
		}
	}
}

func (p *Publisher) handleEnvelope(env model.Envelope) {
	switch env.Event {
	case model.EventConnect:
		p.handleConnect()
	case model.EventDisconnect:
		p.handleDisconnect()
	case model.EventRoomCreated:
		p.handleRoomCreated(env.Data)
	case model.EventUserJoined:
		p.handleUserJoined(env.Data)
	case model.EventUserLeft:
		p.handleUserLeft(env.Data)
	case model.EventLocationSent:
		p.handleUserLocation(env.Data)
	default:
		p.logger.Debug().Str("event", env.Event).Msg("ignoring event")
	}
}

func (p *Publisher) handleConnect() {
	p.mx.Lock()
	p.st.connection = model.StatusConnected
	roomCode := p.st.roomCode
	pos := p.st.lastPosition
	p.mx.Unlock()

	if roomCode == "" {
		p.notify(session.NoticeError, "Please enter a room code")
		return
	}
	p.send(model.EventCreateRoom, model.CreateRoomRequest{
		RoomCode: roomCode,
		Position: pos,
	})
}

func (p *Publisher) handleDisconnect() {
	p.mx.Lock()
	p.st.connection = model.StatusDisconnected
	p.st.room = nil
	p.mx.Unlock()
}

func (p *Publisher) handleRoomCreated(data json.RawMessage) {
	var info model.RoomInfo
	if err := json.Unmarshal(data, &info); err != nil {
		p.logger.Error().Err(err).Msg("bad roomCreated payload")
		return
	}

	p.mx.Lock()
	p.st.room = &info
	p.mx.Unlock()

	p.logger.Debug().Str("roomId", info.RoomID).Msg("room created")
	p.notify(session.NoticeSuccess, "You are live!")
}

func (p *Publisher) handleUserJoined(data json.RawMessage) {
	var change model.MembershipChange
	if err := json.Unmarshal(data, &change); err != nil {
		p.logger.Error().Err(err).Msg("bad userJoinedRoom payload")
		return
	}

	p.mx.Lock()
	if p.st.room != nil {
		p.st.room.TotalConnectedUsers = change.TotalConnectedUsers
	}
	pos := p.st.lastPosition
	p.mx.Unlock()

	p.notify(session.NoticeInfo, change.UserID+" joined the room")

	// Late joiners get the last known position right away instead of
	// waiting for the next sample.
	if pos != nil {
		p.send(model.EventLocation, model.LocationUpdate{Position: *pos})
	}
}

func (p *Publisher) handleUserLeft(data json.RawMessage) {
	var change model.MembershipChange
	if err := json.Unmarshal(data, &change); err != nil {
		p.logger.Error().Err(err).Msg("bad userLeftRoom payload")
		return
	}

	p.mx.Lock()
	if p.st.room != nil {
		p.st.room.TotalConnectedUsers = change.TotalConnectedUsers
	}
	locations := p.st.userLocations[:0]
	for _, loc := range p.st.userLocations {
		if loc.UserID != change.UserID {
			locations = append(locations, loc)
		}
	}
	p.st.userLocations = locations
	p.mx.Unlock()

	p.notify(session.NoticeInfo, change.UserID+" left the room")
}

func (p *Publisher) handleUserLocation(data json.RawMessage) {
	var upd model.LocationUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		p.logger.Error().Err(err).Msg("bad updateLocationResponse payload")
		return
	}

	p.mx.Lock()
	defer p.mx.Unlock()
	for i := range p.st.userLocations {
		if p.st.userLocations[i].UserID == upd.UserID {
			p.st.userLocations[i].Position = upd.Position
			return
		}
	}
	p.st.userLocations = append(p.st.userLocations, model.UserLocation{
		UserID:   upd.UserID,
		Position: upd.Position,
	})
}

func (p *Publisher) handleSample(upd geo.Update) {
	if upd.Err != nil {
		p.mx.Lock()
		p.st.access = upd.Err.AccessStatus()
		p.mx.Unlock()
		p.logger.Warn().Str("kind", string(upd.Err.Kind)).Msg("position source error")
		return
	}
	if !upd.Position.Valid() {
		p.logger.Error().Msg("dropping non-finite position sample")
		return
	}

	pos := upd.Position
	p.mx.Lock()
	p.st.access = model.AccessAccessed
	p.st.lastPosition = &pos
	connected := p.st.connection == model.StatusConnected
	p.mx.Unlock()

	// Every sample is forwarded while live, no rate limiting.
	if connected {
		p.send(model.EventLocation, model.LocationUpdate{Position: pos})
	}
}

func (p *Publisher) send(event string, payload any) {
	if err := p.ch.Send(event, payload); err != nil {
		p.logger.Debug().Err(err).Str("event", event).Msg("send failed")
	}
}

func (p *Publisher) notify(level session.NoticeLevel, msg string) {
	select {
	case p.notices <- session.Notice{Level: level, Message: msg}:
	default:
		p.logger.Debug().Str("msg", msg).Msg("notice dropped, consumer is slow")
	}
}
