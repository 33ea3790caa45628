package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waello/ozeshare/model"
	"github.com/waello/ozeshare/storage/memory"
)

type stubRoomService struct {
	rooms map[string]*memory.Room
}

func (s *stubRoomService) GetRoom(roomID string) (*memory.Room, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, memory.ErrRoomNotFound
	}
	return room, nil
}

func newTestServer(t *testing.T) (*Server, *stubRoomService) {
	t.Helper()
	logger := zerolog.Nop()
	svc := &stubRoomService{rooms: make(map[string]*memory.Room)}
	return NewServer(Config{Logger: &logger, RoomService: svc}), svc
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp GenericResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Message)
}

func TestGetRoom(t *testing.T) {
	srv, svc := newTestServer(t)
	svc.rooms["ABC123"] = &memory.Room{
		ID:        "ABC123",
		Publisher: "p1",
		Position:  model.Position{Lat: 10, Lng: 20},
		Members:   []string{"p1", "u1"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/room/ABC123", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Message string         `json:"message"`
		Data    model.RoomInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Message)
	assert.Equal(t, "ABC123", resp.Data.RoomID)
	assert.Equal(t, []string{"p1", "u1"}, resp.Data.TotalConnectedUsers)
}

func TestGetRoomNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/room/NOPE", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
