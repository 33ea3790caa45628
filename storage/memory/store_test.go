package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waello/ozeshare/model"
)

func TestCreateRoom(t *testing.T) {
	ms := NewMemStore()

	room := ms.CreateRoom("ABC123", "p1", model.Position{Lat: 10, Lng: 20})
	assert.Equal(t, "ABC123", room.ID)
	assert.Equal(t, "p1", room.Publisher)
	assert.Equal(t, []string{"p1"}, room.Members)

	got, err := ms.GetRoom("ABC123")
	require.NoError(t, err)
	assert.Equal(t, room, got)
}

func TestCreateRoomLastPublisherWins(t *testing.T) {
	ms := NewMemStore()

	ms.CreateRoom("ABC123", "p1", model.Position{})
	_, err := ms.AddMember("ABC123", "u1")
	require.NoError(t, err)

	room := ms.CreateRoom("ABC123", "p2", model.Position{Lat: 1, Lng: 1})
	assert.Equal(t, "p2", room.Publisher)
	assert.Equal(t, []string{"p2"}, room.Members, "takeover starts a fresh membership")
}

func TestGetRoomNotFound(t *testing.T) {
	ms := NewMemStore()

	_, err := ms.GetRoom("NOPE")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestAddMember(t *testing.T) {
	ms := NewMemStore()
	ms.CreateRoom("ABC123", "p1", model.Position{})

	room, err := ms.AddMember("ABC123", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "u1"}, room.Members)

	_, err = ms.AddMember("ABC123", "u1")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	_, err = ms.AddMember("NOPE", "u1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRemoveMember(t *testing.T) {
	ms := NewMemStore()
	ms.CreateRoom("ABC123", "p1", model.Position{})
	_, err := ms.AddMember("ABC123", "u1")
	require.NoError(t, err)
	_, err = ms.AddMember("ABC123", "u2")
	require.NoError(t, err)

	room, err := ms.RemoveMember("ABC123", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "u2"}, room.Members)

	_, err = ms.RemoveMember("ABC123", "u1")
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestSetPosition(t *testing.T) {
	ms := NewMemStore()
	ms.CreateRoom("ABC123", "p1", model.Position{})

	require.NoError(t, ms.SetPosition("ABC123", model.Position{Lat: 5, Lng: 6}))
	room, err := ms.GetRoom("ABC123")
	require.NoError(t, err)
	assert.Equal(t, model.Position{Lat: 5, Lng: 6}, room.Position)

	assert.ErrorIs(t, ms.SetPosition("NOPE", model.Position{}), ErrRoomNotFound)
}

func TestRemoveRoom(t *testing.T) {
	ms := NewMemStore()
	ms.CreateRoom("ABC123", "p1", model.Position{})
	ms.RemoveRoom("ABC123")

	_, err := ms.GetRoom("ABC123")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomSnapshotsAreIsolated(t *testing.T) {
	ms := NewMemStore()
	room := ms.CreateRoom("ABC123", "p1", model.Position{})
	room.Members[0] = "mutated"

	got, err := ms.GetRoom("ABC123")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, got.Members)
}
