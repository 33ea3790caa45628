package memory

import (
	"errors"
	"sync"

	"github.com/waello/ozeshare/model"
)

var (
	ErrRoomNotFound  = errors.New("room is not found")
	ErrNotAMember    = errors.New("user is not a member of this room")
	ErrAlreadyJoined = errors.New("user already joined this room")
)

// Room is the server-side view of one broadcast group: exactly one
// publisher plus zero or more subscribers. Members keeps server-assigned
// insertion order with the publisher first.
type Room struct {
	ID        string
	Publisher string
	Position  model.Position
	Members   []string
}

// Info renders the room as the wire-level snapshot.
func (r *Room) Info() model.RoomInfo {
	return model.RoomInfo{
		RoomID:              r.ID,
		Position:            r.Position,
		TotalConnectedUsers: append([]string(nil), r.Members...),
	}
}

func (r *Room) clone() *Room {
	cp := *r
	cp.Members = append([]string(nil), r.Members...)
	return &cp
}

// MemStore keeps rooms for the process lifetime only.
type MemStore struct {
	mx *sync.Mutex
	db map[string]*Room
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.Mutex{},
		db: make(map[string]*Room),
	}
}

// CreateRoom registers a room under roomID with the given publisher,
// replacing any existing room with the same id. Last publisher wins;
// the caller is expected to tear the previous room down first.
func (ms *MemStore) CreateRoom(roomID, publisherID string, pos model.Position) *Room {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room := &Room{
		ID:        roomID,
		Publisher: publisherID,
		Position:  pos,
		Members:   []string{publisherID},
	}
	ms.db[roomID] = room
	return room.clone()
}

func (ms *MemStore) GetRoom(roomID string) (*Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.clone(), nil
}

// AddMember appends userID to the room's membership.
func (ms *MemStore) AddMember(roomID, userID string) (*Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	for _, id := range room.Members {
		if id == userID {
			return nil, ErrAlreadyJoined
		}
	}
	room.Members = append(room.Members, userID)
	return room.clone(), nil
}

// RemoveMember drops userID from the room's membership.
func (ms *MemStore) RemoveMember(roomID, userID string) (*Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	for i, id := range room.Members {
		if id == userID {
			room.Members = append(room.Members[:i], room.Members[i+1:]...)
			return room.clone(), nil
		}
	}
	return nil, ErrNotAMember
}

// SetPosition records the publisher's latest sample so late joiners can be
// primed from the join response.
func (ms *MemStore) SetPosition(roomID string, pos model.Position) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.Position = pos
	return nil
}

func (ms *MemStore) RemoveRoom(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	delete(ms.db, roomID)
}
