package tasks

type Kind string

const (
	KindPlace       Kind = "PLACE"
	KindRemove      Kind = "REMOVE"
	KindFertilize   Kind = "FERTILIZE"
	KindPickupItems Kind = "PICKUP_ITEMS"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPlace, KindRemove, KindFertilize, KindPickupItems:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether s is absorbing (COMPLETED or CANCELLED).
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

type Vec3i struct{ X, Y, Z int }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// DistSq is the squared euclidean distance between two block positions.
func (v Vec3i) DistSq(o Vec3i) int {
	dx := v.X - o.X
	dy := v.Y - o.Y
	dz := v.Z - o.Z
	return dx*dx + dy*dy + dz*dz
}

// Task is one position-targeted unit of work.
//
// Status transitions are only performed through the methods below. Once a task
// belongs to a job, callers must hold that job's lock.
type Task struct {
	ID       string
	JobID    string
	Pos      Vec3i
	Action   Action
	Priority int

	Status  Status
	AgentID string
}

func New(pos Vec3i, action Action, priority int) *Task {
	return &Task{
		Pos:      pos,
		Action:   action,
		Priority: priority,
		Status:   StatusPending,
	}
}

func Place(pos Vec3i, block string, items []ItemStack, priority int) *Task {
	return New(pos, PlaceAction(block, items), priority)
}

func Remove(pos Vec3i, priority int) *Task {
	return New(pos, RemoveAction(), priority)
}

func Fertilize(pos Vec3i, priority int) *Task {
	return New(pos, FertilizeAction(), priority)
}

func Pickup(pos Vec3i, radius int, priority int) *Task {
	return New(pos, PickupAction(radius), priority)
}

func (t *Task) Claim(agentID string) bool {
	if t.Status != StatusPending || agentID == "" {
		return false
	}
	t.Status = StatusInProgress
	t.AgentID = agentID
	return true
}

func (t *Task) Complete() bool {
	if t.Status != StatusInProgress {
		return false
	}
	t.Status = StatusCompleted
	return true
}

func (t *Task) Fail() bool {
	if t.Status != StatusInProgress {
		return false
	}
	t.Status = StatusFailed
	t.AgentID = ""
	return true
}

// Release puts an in-progress or failed task back in the queue.
func (t *Task) Release() bool {
	if t.Status != StatusInProgress && t.Status != StatusFailed {
		return false
	}
	t.Status = StatusPending
	t.AgentID = ""
	return true
}

func (t *Task) Cancel() bool {
	if t.Status.Terminal() {
		return false
	}
	t.Status = StatusCancelled
	return true
}
