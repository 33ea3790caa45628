package model

import (
	"encoding/json"
	"math"
)

// ConnectionStatus is the state of the persistent channel. Exactly one
// value is active at a time and transitions happen only inside the
// transport client.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// LocationAccessStatus reflects the position source's permission and
// availability. It is set only from position-source callbacks.
type LocationAccessStatus string

const (
	AccessUnknown  LocationAccessStatus = "unknown"
	AccessAccessed LocationAccessStatus = "accessed"
	AccessDenied   LocationAccessStatus = "denied"
	AccessError    LocationAccessStatus = "error"
)

// RoomStatus is the subscriber-side join outcome. NotExist is terminal:
// no further join attempts happen without explicit user action.
type RoomStatus string

const (
	RoomUnknown  RoomStatus = "unknown"
	RoomJoined   RoomStatus = "joined"
	RoomNotExist RoomStatus = "not-exist"
)

// Join response status values on the wire.
const (
	JoinStatusOK    = "OK"
	JoinStatusError = "ERROR"
)

// Position is a single geographic sample. Immutable value, superseded by
// newer samples.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both coordinates are finite.
func (p Position) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}

// RoomInfo is the publisher-side room snapshot. TotalConnectedUsers is the
// server-assigned membership list in insertion order and always includes
// the publisher itself.
type RoomInfo struct {
	RoomID              string   `json:"roomId"`
	Position            Position `json:"position"`
	TotalConnectedUsers []string `json:"totalConnectedUsers"`
}

// UserLocation is one remote participant's last shared position.
type UserLocation struct {
	UserID   string   `json:"userId"`
	Position Position `json:"position"`
}

// Event vocabulary exchanged over the channel. The connect/disconnect pair
// is transport-level and is delivered in-band as synthetic envelopes.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventCreateRoom   = "createRoom"
	EventRoomCreated  = "roomCreated"
	EventJoinRoom     = "joinRoom"
	EventRoomJoined   = "roomJoined"
	EventRoomDestroy  = "roomDestroyed"
	EventUserJoined   = "userJoinedRoom"
	EventUserLeft     = "userLeftRoom"
	EventLocation     = "updateLocation"
	EventLocationSent = "updateLocationResponse"
	EventPing         = "ping"
)

// Envelope is one message on the wire: event name plus JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for the given event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: b}, nil
}

// CreateRoomRequest asks the server to open a room for this session.
type CreateRoomRequest struct {
	RoomCode string    `json:"roomCode"`
	Position *Position `json:"position,omitempty"`
}

// JoinRoomRequest asks the server to add this session to a room.
type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

// JoinRoomResponse is the join outcome. Position carries the publisher's
// current location when Status is OK.
type JoinRoomResponse struct {
	Status   string    `json:"status"`
	Position *Position `json:"position,omitempty"`
}

// MembershipChange announces a grown or shrunk room. TotalConnectedUsers
// is authoritative and replaces, not merges, the local list.
type MembershipChange struct {
	UserID              string   `json:"userId"`
	TotalConnectedUsers []string `json:"totalConnectedUsers"`
}

// LocationUpdate carries one position broadcast. UserID is empty when the
// publisher sends it upstream; the server fills it in before relaying.
type LocationUpdate struct {
	UserID   string   `json:"userId,omitempty"`
	Position Position `json:"position"`
}

// Wire is a duplex envelope pipe between a session and the fan-out hub.
type Wire struct {
	RX chan Envelope
	TX chan Envelope
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Envelope),
		TX: make(chan Envelope),
	}
}
