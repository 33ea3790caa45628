package session

import "github.com/waello/ozeshare/model"

// Role of the local participant in a room.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Snapshot is the merged, read-only view of one session: channel status,
// position-source status and the active role's room state. It is produced
// by the room coordinators and carries no behavior of its own.
type Snapshot struct {
	Role       Role
	Connection model.ConnectionStatus
	Access     model.LocationAccessStatus

	// LastPosition is the local participant's most recent sample.
	LastPosition *model.Position

	// Publisher role.
	Room *model.RoomInfo

	// Subscriber role.
	RoomStatus        model.RoomStatus
	PublisherPosition *model.Position
	Sharing           bool

	// Remote participants' shared positions, insertion-ordered.
	UserLocations []model.UserLocation
}

// NoticeLevel grades a user-facing notification.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a discrete user-facing event. Notices are advisory: the
// authoritative state lives in the Snapshot.
type Notice struct {
	Level   NoticeLevel
	Message string
}
