package interfaces

import (
	"context"
	"time"

	"dronelab/pkg/types"
)

// LectureStore persists lecture records. The live per-participant state is
// not kept here; see the session store.
type LectureStore interface {
	// CreateLecture inserts an active lecture and fills in its ID.
	CreateLecture(ctx context.Context, lecture *types.Lecture) error

	// GetLectureByCode returns the active lecture with that code, or the most
	// recent ended one. Returns ErrLectureNotFound when neither exists.
	GetLectureByCode(ctx context.Context, code string) (*types.Lecture, error)

	// DeactivateLecture marks the active lecture with that code as ended.
	DeactivateLecture(ctx context.Context, code string, at time.Time) error

	ListActiveLectures(ctx context.Context) ([]*types.Lecture, error)

	HealthCheck(ctx context.Context) error
}
