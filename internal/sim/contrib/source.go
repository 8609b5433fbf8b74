package contrib

import "hivework.ai/internal/sim/tasks"

type SourceKind string

const (
	KindStationary SourceKind = "STATIONARY"
	KindPortable   SourceKind = "PORTABLE"
)

// Source is anything that funds jobs with units and serves as home for the
// agents it releases.
type Source interface {
	ID() string
	WorldID() string
	Pos() tasks.Vec3i
	Kind() SourceKind
	OwnerID() string

	// AvailableUnits is never negative.
	AvailableUnits() int
	// MaxContribution caps what the source commits to a single job.
	MaxContribution() int
	WorkRange() int
	InRange(pos tasks.Vec3i) bool

	WorkContext() tasks.WorkContext
	Materials() tasks.MaterialSource

	// TakeUnit removes one unit to become an active agent.
	TakeUnit() bool
	ReturnUnit()
}

// WithinRange is the shared range rule: squared distance at most r².
func WithinRange(center tasks.Vec3i, r int, pos tasks.Vec3i) bool {
	if r < 0 {
		return false
	}
	return center.DistSq(pos) <= r*r
}
