package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/waello/ozeshare/geo"
	"github.com/waello/ozeshare/model"
	"github.com/waello/ozeshare/session"
	"github.com/waello/ozeshare/transport"
)

var (
	ErrNoRoomID    = errors.New("room id is required")
	ErrSourceWatch = errors.New("unable to watch position source")
)

const noticeBuffer = 16

type (
	// Config for the subscriber coordinator. The channel should be built
	// with the reconnect policy enabled: the subscriber is the role that
	// recovers from unintentional closes.
	Config struct {
		Logger  *zerolog.Logger
		Channel transport.Channel
		Source  geo.Source

		// UserID identifies this participant in upstream location
		// broadcasts. Generated when empty.
		UserID string
	}

	// Subscriber joins an existing room, follows the publisher's position
	// and optionally forwards its own samples upstream. Joining and own
	// sharing are orthogonal: a subscriber can observe without sharing.
	Subscriber struct {
		logger zerolog.Logger
		ch     transport.Channel
		src    geo.Source
		userID string

		mx sync.RWMutex
		st state

		notices chan session.Notice
	}

	state struct {
		connection        model.ConnectionStatus
		access            model.LocationAccessStatus
		roomID            string
		roomStatus        model.RoomStatus
		publisherPosition *model.Position
		lastPosition      *model.Position
		sharing           bool
	}
)

func New(cfg Config) *Subscriber {
	userID := cfg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	return &Subscriber{
		logger:  cfg.Logger.With().Str("component", "subscriber").Logger(),
		ch:      cfg.Channel,
		src:     cfg.Source,
		userID:  userID,
		notices: make(chan session.Notice, noticeBuffer),
		st: state{
			connection: model.StatusDisconnected,
			access:     model.AccessUnknown,
			roomStatus: model.RoomUnknown,
		},
	}
}

func (s *Subscriber) UserID() string {
	return s.userID
}

// Notices is the stream of user-facing events.
func (s *Subscriber) Notices() <-chan session.Notice {
	return s.notices
}

// Snapshot returns a copy of the current session view.
func (s *Subscriber) Snapshot() session.Snapshot {
	s.mx.RLock()
	defer s.mx.RUnlock()

	snap := session.Snapshot{
		Role:       session.RoleSubscriber,
		Connection: s.st.connection,
		Access:     s.st.access,
		RoomStatus: s.st.roomStatus,
		Sharing:    s.st.sharing,
	}
	if s.st.publisherPosition != nil {
		pos := *s.st.publisherPosition
		snap.PublisherPosition = &pos
	}
	if s.st.lastPosition != nil {
		pos := *s.st.lastPosition
		snap.LastPosition = &pos
	}
	return snap
}

// Join initiates the connection towards the given room. The join request
// is emitted on every channel connect, which also re-enters the room after
// an automatic reconnect.
func (s *Subscriber) Join(roomID string) error {
	if roomID == "" {
		return ErrNoRoomID
	}

	s.mx.Lock()
	s.st.roomID = roomID
	if s.st.connection == model.StatusDisconnected {
		s.st.connection = model.StatusConnecting
	}
	s.mx.Unlock()

	s.logger.Debug().Str("roomId", roomID).Msg("joining room")
	s.ch.Connect()
	return nil
}

// Leave disconnects intentionally, suppressing reconnection.
func (s *Subscriber) Leave() {
	s.mx.Lock()
	s.st.connection = model.StatusDisconnected
	s.st.sharing = false
	s.mx.Unlock()

	s.ch.Disconnect(true)
	s.logger.Debug().Msg("left room")
}

// StartSharingOwnLocation forwards this subscriber's samples upstream.
func (s *Subscriber) StartSharingOwnLocation() {
	s.mx.Lock()
	s.st.sharing = true
	s.mx.Unlock()
	s.notify(session.NoticeSuccess, "Started sharing your location")
}

// StopSharingOwnLocation keeps the session but stops forwarding samples.
func (s *Subscriber) StopSharingOwnLocation() {
	s.mx.Lock()
	s.st.sharing = false
	s.mx.Unlock()
	s.notify(session.NoticeSuccess, "You are no longer sharing your location")
}

// Run processes channel events and position samples until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	samples, err := s.src.Watch(ctx)
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
			s.handleSample(upd)
		case env, ok := <-s.ch.RX():
			if !ok {
				return nil
			}
			s.handleEnvelope(env)
		}
	}
}

func (s *Subscriber) handleEnvelope(env model.Envelope) {
	switch env.Event {
	case model.EventConnect:
		s.handleConnect()
	case model.EventDisconnect:
		s.handleDisconnect()
	case model.EventRoomJoined:
		s.handleRoomJoined(env.Data)
	case model.EventLocationSent:
		s.handleLocation(env.Data)
	case model.EventRoomDestroy:
		s.handleRoomDestroyed()
	default:
		s.logger.Debug().Str("event", env.Event).Msg("ignoring event")
	}
}

func (s *Subscriber) handleConnect() {
	s.mx.Lock()
	s.st.connection = model.StatusConnected
	roomID := s.st.roomID
	s.mx.Unlock()

	if roomID == "" {
		return
	}
	s.send(model.EventJoinRoom, model.JoinRoomRequest{RoomID: roomID})
}

func (s *Subscriber) handleDisconnect() {
	s.mx.Lock()
	s.st.connection = model.StatusDisconnected
	s.mx.Unlock()
}

func (s *Subscriber) handleRoomJoined(data json.RawMessage) {
	var resp model.JoinRoomResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Error().Err(err).Msg("bad roomJoined payload")
		return
	}

	s.mx.Lock()
	switch resp.Status {
	case model.JoinStatusOK:
		s.st.roomStatus = model.RoomJoined
		if resp.Position != nil {
			pos := *resp.Position
			s.st.publisherPosition = &pos
		}
	case model.JoinStatusError:
		s.st.roomStatus = model.RoomNotExist
	default:
		// Unrecognized status stays indeterminate, not terminal.
		s.st.roomStatus = model.RoomUnknown
	}
	status := s.st.roomStatus
	s.mx.Unlock()

	s.logger.Debug().Str("roomStatus", string(status)).Msg("join answered")
	if status == model.RoomNotExist {
		s.notify(session.NoticeError, "Room does not exist")
	}
}

// handleLocation overwrites the tracked publisher position with whatever
// arrived last. Broadcasts carry no sequence numbers, so a transport that
// reorders delivery makes the last-processed sample win regardless of send
// order. Known limitation, kept as-is.
func (s *Subscriber) handleLocation(data json.RawMessage) {
	var upd model.LocationUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		s.logger.Error().Err(err).Msg("bad updateLocationResponse payload")
		return
	}

	pos := upd.Position
	s.mx.Lock()
	s.st.publisherPosition = &pos
	s.mx.Unlock()
}

// handleRoomDestroyed treats the teardown as an intentional disconnect so
// the channel never reconnects into a room that no longer exists.
func (s *Subscriber) handleRoomDestroyed() {
	s.mx.Lock()
	s.st.roomStatus = model.RoomNotExist
	s.mx.Unlock()

	s.ch.Disconnect(true)
	s.notify(session.NoticeInfo, "The publisher ended the session")
}

func (s *Subscriber) handleSample(upd geo.Update) {
	if upd.Err != nil {
		s.mx.Lock()
		s.st.access = upd.Err.AccessStatus()
		s.mx.Unlock()
		s.logger.Warn().Str("kind", string(upd.Err.Kind)).Msg("position source error")
		s.notify(session.NoticeError, "Error getting location")
		return
	}
	if !upd.Position.Valid() {
		s.logger.Error().Msg("dropping non-finite position sample")
		return
	}

	pos := upd.Position
	s.mx.Lock()
	s.st.access = model.AccessAccessed
	s.st.lastPosition = &pos
	forward := s.st.sharing && s.st.connection == model.StatusConnected
	s.mx.Unlock()

	if forward {
		s.send(model.EventLocation, model.LocationUpdate{
			UserID:   s.userID,
			Position: pos,
		})
	}
}

func (s *Subscriber) send(event string, payload any) {
	if err := s.ch.Send(event, payload); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("send failed")
	}
}

func (s *Subscriber) notify(level session.NoticeLevel, msg string) {
	select {
	case s.notices <- session.Notice{Level: level, Message: msg}:
	default:
		s.logger.Debug().Str("msg", msg).Msg("notice dropped, consumer is slow")
	}
}
