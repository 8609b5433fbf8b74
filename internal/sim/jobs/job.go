package jobs

import (
	"fmt"
	"sort"
	"sync"

	"hivework.ai/internal/sim/tasks"
)

type Status string

const (
	StatusWaitingForCapacity Status = "WAITING_FOR_CAPACITY"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

type Spec struct {
	ID            string
	WorldID       string
	Center        tasks.Vec3i
	RequiredUnits int
	OwnerID       string
	UniqueKey     string
	Kind          string
	CreatedTick   uint64
}

// Job aggregates the tasks of one logical request and the units sources
// committed to it. All mutable state is guarded by mu; unrelated jobs never
// contend on each other.
type Job struct {
	ID            string
	WorldID       string
	Center        tasks.Vec3i
	RequiredUnits int
	OwnerID       string
	UniqueKey     string
	Kind          string
	CreatedTick   uint64

	mu            sync.Mutex
	status        Status
	tasks         []*tasks.Task
	byID          map[string]*tasks.Task
	nextTask      int
	contributions map[string]int
	contributed   int
}

func New(spec Spec) *Job {
	req := spec.RequiredUnits
	if req < 0 {
		req = 0
	}
	return &Job{
		ID:            spec.ID,
		WorldID:       spec.WorldID,
		Center:        spec.Center,
		RequiredUnits: req,
		OwnerID:       spec.OwnerID,
		UniqueKey:     spec.UniqueKey,
		Kind:          spec.Kind,
		CreatedTick:   spec.CreatedTick,
		status:        StatusWaitingForCapacity,
		byID:          map[string]*tasks.Task{},
		contributions: map[string]int{},
	}
}

// AddTasks appends tasks, assigning ids, and keeps the list ordered by
// descending priority (insertion order among equal priorities).
func (j *Job) AddTasks(ts ...*tasks.Task) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range ts {
		if t == nil {
			continue
		}
		j.nextTask++
		t.ID = fmt.Sprintf("T%06d", j.nextTask)
		t.JobID = j.ID
		j.tasks = append(j.tasks, t)
		j.byID[t.ID] = t
	}
	sort.SliceStable(j.tasks, func(a, b int) bool { return j.tasks[a].Priority > j.tasks[b].Priority })
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) TaskCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.tasks)
}

// Target is the number of units the job tries to gather: at least the
// requirement, and one per task when there are more tasks than that.
func (j *Job) Target() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.tasks) > j.RequiredUnits {
		return len(j.tasks)
	}
	return j.RequiredUnits
}

func (j *Job) AddContribution(sourceID string, units int) {
	if sourceID == "" || units <= 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.contributions[sourceID] += units
	j.contributed += units
	// One-way: withdrawing later never puts the job back to waiting.
	if j.status == StatusWaitingForCapacity && j.contributed >= j.RequiredUnits {
		j.status = StatusInProgress
	}
}

// RemoveContribution drops a source's entry and returns the units it held.
func (j *Job) RemoveContribution(sourceID string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n, ok := j.contributions[sourceID]
	if !ok {
		return 0
	}
	delete(j.contributions, sourceID)
	j.contributed -= n
	return n
}

func (j *Job) Contribution(sourceID string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.contributions[sourceID]
}

func (j *Job) ContributedUnits() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.contributed
}

func (j *Job) Contributions() map[string]int {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]int, len(j.contributions))
	for k, v := range j.contributions {
		out[k] = v
	}
	return out
}

// Ready reports whether agents may work on the job.
func (j *Job) Ready() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	return j.status == StatusInProgress || j.contributed >= j.RequiredUnits
}

// ClaimNextTask assigns the first pending task to agentID.
func (j *Job) ClaimNextTask(agentID string) (*tasks.Task, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return nil, false
	}
	for _, t := range j.tasks {
		if t.Status != tasks.StatusPending {
			continue
		}
		if t.Claim(agentID) {
			return t, true
		}
	}
	return nil, false
}

func (j *Job) HasPending() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	for _, t := range j.tasks {
		if t.Status == tasks.StatusPending {
			return true
		}
	}
	return false
}

func (j *Job) TaskStatus(taskID string) (tasks.Status, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t := j.byID[taskID]
	if t == nil {
		return "", false
	}
	return t.Status, true
}

func (j *Job) ownedLocked(taskID, agentID string) *tasks.Task {
	t := j.byID[taskID]
	if t == nil || t.AgentID != agentID {
		return nil
	}
	return t
}

func (j *Job) CompleteTask(taskID, agentID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	t := j.ownedLocked(taskID, agentID)
	return t != nil && t.Complete()
}

// FailTask marks the task failed and immediately re-queues it.
func (j *Job) FailTask(taskID, agentID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	t := j.ownedLocked(taskID, agentID)
	if t == nil || !t.Fail() {
		return false
	}
	return t.Release()
}

func (j *Job) ReleaseTask(taskID, agentID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	t := j.ownedLocked(taskID, agentID)
	return t != nil && t.Release()
}

func (j *Job) isCompleteLocked() bool {
	for _, t := range j.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// IsComplete is true iff every task is completed or cancelled.
func (j *Job) IsComplete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.isCompleteLocked()
}

// MarkCompleted moves a finished, non-terminal job to COMPLETED.
func (j *Job) MarkCompleted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() || !j.isCompleteLocked() {
		return false
	}
	j.status = StatusCompleted
	return true
}

func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusCompleted {
		return
	}
	j.status = StatusCancelled
	for _, t := range j.tasks {
		t.Cancel()
	}
}

// Progress is the completed-task fraction; a job without tasks is done.
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.tasks) == 0 {
		return 1.0
	}
	done := 0
	for _, t := range j.tasks {
		if t.Status == tasks.StatusCompleted {
			done++
		}
	}
	return float64(done) / float64(len(j.tasks))
}

type Counts struct {
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Cancelled  int
}

func (j *Job) Counts() Counts {
	j.mu.Lock()
	defer j.mu.Unlock()
	c := Counts{Total: len(j.tasks)}
	for _, t := range j.tasks {
		switch t.Status {
		case tasks.StatusPending, tasks.StatusFailed:
			c.Pending++
		case tasks.StatusInProgress:
			c.InProgress++
		case tasks.StatusCompleted:
			c.Completed++
		case tasks.StatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// Tasks returns copies of the job's tasks in claim order.
func (j *Job) Tasks() []tasks.Task {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]tasks.Task, 0, len(j.tasks))
	for _, t := range j.tasks {
		out = append(out, *t)
	}
	return out
}
