package geo

import (
	"context"

	"github.com/waello/ozeshare/model"
)

// ErrorKind classifies a position-source failure the way geolocation
// providers report them.
type ErrorKind string

const (
	KindPermissionDenied    ErrorKind = "permission-denied"
	KindPositionUnavailable ErrorKind = "position-unavailable"
	KindTimeout             ErrorKind = "timeout"
	KindOther               ErrorKind = "other"
)

// WatchError is a classified position-source error event.
type WatchError struct {
	Kind ErrorKind
}

func (e *WatchError) Error() string {
	return "position source: " + string(e.Kind)
}

// AccessStatus maps a source failure onto the session's location access
// status. The unavailable case deliberately stays "unknown" rather than
// "error": the source may still deliver once a fix is acquired.
func (e *WatchError) AccessStatus() model.LocationAccessStatus {
	switch e.Kind {
	case KindPermissionDenied:
		return model.AccessDenied
	case KindPositionUnavailable:
		return model.AccessUnknown
	default:
		return model.AccessError
	}
}

// Update is one element of the sample sequence: either a position or a
// classified error, never both.
type Update struct {
	Position model.Position
	Err      *WatchError
}

// Source delivers a lazy, infinite, non-restartable sequence of position
// updates. Watch may be called once; the returned channel is closed when
// ctx is canceled or the source is exhausted.
type Source interface {
	Watch(ctx context.Context) (<-chan Update, error)
}
