package agent

import (
	"math"

	"hivework.ai/internal/sim/contrib"
	"hivework.ai/internal/sim/jobs"
	"hivework.ai/internal/sim/pool"
	"hivework.ai/internal/sim/tasks"
	"hivework.ai/internal/sim/tuning"
)

type State string

const (
	StateIdle      State = "IDLE"
	StateFetching  State = "FETCHING_ITEMS"
	StateTraveling State = "TRAVELING_TO_WORK"
	StateWorking   State = "WORKING"
	StateReturning State = "RETURNING_HOME"
)

// Outcome tells the host what to do with the agent after a tick.
type Outcome int

const (
	// Continue keeps the agent alive.
	Continue Outcome = iota
	// Done means the agent went home for good; its unit goes back to the source.
	Done
	// Discarded means the source vanished; the agent dropped what it carried.
	Discarded
)

// minStep is the per-tick movement below which a traveling agent counts as stuck.
const minStep = 0.1

type SourceLookup interface {
	Source(id string) (contrib.Source, bool)
}

// TaskSource hands out claimable work, see pool.Pool.
type TaskSource interface {
	TaskForAgent(src pool.Locator, agentID string) (*jobs.Job, *tasks.Task, bool)
	HasWorkFor(src pool.Locator) bool
}

// Env is everything an agent reaches during a tick. It is shared by all
// agents of a session.
type Env struct {
	Sources SourceLookup
	Tasks   TaskSource
	World   tasks.World
	Tuning  tuning.Agent

	// Blocked reports cells agents cannot move into. Nil means open air.
	Blocked func(pos tasks.Vec3i) bool
}

func (e Env) cfg() tuning.Agent {
	c := e.Tuning
	d := tuning.Defaults().Agent
	if c.Speed <= 0 {
		c.Speed = d.Speed
	}
	if c.FetchRadius <= 0 {
		c.FetchRadius = d.FetchRadius
	}
	if c.StuckTicks <= 0 {
		c.StuckTicks = d.StuckTicks
	}
	if c.IdleReturnTicks <= 0 {
		c.IdleReturnTicks = d.IdleReturnTicks
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

type Vec3f struct{ X, Y, Z float64 }

func toVec3f(v tasks.Vec3i) Vec3f { return Vec3f{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)} }

func (v Vec3f) Block() tasks.Vec3i {
	return tasks.Vec3i{X: int(math.Floor(v.X + 0.5)), Y: int(math.Floor(v.Y + 0.5)), Z: int(math.Floor(v.Z + 0.5))}
}

func (v Vec3f) dist(o Vec3f) float64 {
	dx, dy, dz := o.X-v.X, o.Y-v.Y, o.Z-v.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Agent is one worker released from a source. An agent is ticked by a single
// goroutine at a time; everything it shares with others goes through the job,
// pool, source and world, which carry their own locks.
type Agent struct {
	ID       string
	SourceID string

	State    State
	Pos      Vec3f
	Velocity Vec3f

	job  *jobs.Job
	task *tasks.Task
	// held are the materials fetched for the current task.
	held    []tasks.ItemStack
	carried []tasks.ItemStack

	stuck     int
	workTicks int
	attempts  int
	idleTicks int
}

func New(id string, src contrib.Source) *Agent {
	return &Agent{
		ID:       id,
		SourceID: src.ID(),
		State:    StateIdle,
		Pos:      toVec3f(src.Pos()),
	}
}

// TaskID is the id of the claimed task, empty when none.
func (a *Agent) TaskID() string {
	if a.task == nil {
		return ""
	}
	return a.task.ID
}

func (a *Agent) JobID() string {
	if a.job == nil {
		return ""
	}
	return a.job.ID
}

// Carry implements tasks.Carrier.
func (a *Agent) Carry(stacks ...tasks.ItemStack) {
	a.carried = mergeStacks(a.carried, stacks...)
}

// Carried returns a copy of the loot the agent holds.
func (a *Agent) Carried() []tasks.ItemStack {
	return append([]tasks.ItemStack(nil), a.carried...)
}

func mergeStacks(dst []tasks.ItemStack, stacks ...tasks.ItemStack) []tasks.ItemStack {
	for _, s := range stacks {
		if s.Item == "" || s.Count <= 0 {
			continue
		}
		merged := false
		for i := range dst {
			if dst[i].Item == s.Item {
				dst[i].Count += s.Count
				merged = true
				break
			}
		}
		if !merged {
			dst = append(dst, s)
		}
	}
	return dst
}

// Tick advances the agent by one simulation step.
func (a *Agent) Tick(env Env) Outcome {
	src, ok := env.Sources.Source(a.SourceID)
	if !ok || src == nil {
		a.discard(env)
		return Discarded
	}
	cfg := env.cfg()

	switch a.State {
	case StateIdle:
		return a.tickIdle(env, cfg, src)
	case StateFetching:
		a.tickFetching(env, cfg, src)
	case StateTraveling:
		a.tickTraveling(env, cfg, src)
	case StateWorking:
		a.tickWorking(env, cfg, src)
	case StateReturning:
		return a.tickReturning(env, cfg, src)
	default:
		a.State = StateIdle
	}
	return Continue
}

func (a *Agent) tickIdle(env Env, cfg tuning.Agent, src contrib.Source) Outcome {
	if j, t, ok := env.Tasks.TaskForAgent(src, a.ID); ok {
		a.job, a.task = j, t
		a.idleTicks, a.attempts, a.workTicks, a.stuck = 0, 0, 0, 0
		if len(t.Action.RequiredItems()) > 0 && !src.WorkContext().InfiniteMaterials {
			a.State = StateFetching
		} else {
			a.State = StateTraveling
		}
		return Continue
	}
	if !a.near(src.Pos(), cfg.FetchRadius) {
		a.State = StateReturning
		return Continue
	}
	a.idleTicks++
	if a.idleTicks < cfg.IdleReturnTicks {
		return Continue
	}
	a.deposit(env, src)
	return Done
}

func (a *Agent) tickFetching(env Env, cfg tuning.Agent, src contrib.Source) {
	if a.observeCancel() {
		return
	}
	home := src.Pos()
	if !a.near(home, cfg.FetchRadius) {
		a.moveToward(env, cfg, home)
		return
	}
	a.Velocity = Vec3f{}

	mats := src.Materials()
	need := a.task.Action.RequiredItems()
	var got []tasks.ItemStack
	short := mats == nil
	for _, it := range need {
		if short {
			break
		}
		n := mats.Extract(it.Item, it.Count)
		if n > 0 {
			got = append(got, tasks.ItemStack{Item: it.Item, Count: n})
		}
		if n < it.Count {
			short = true
		}
	}
	if short {
		for _, s := range got {
			if rest := mats.Insert(s); rest.Count > 0 {
				a.Carry(rest)
			}
		}
		a.job.ReleaseTask(a.task.ID, a.ID)
		a.clearTask()
		a.State = StateIdle
		return
	}
	a.held = got
	a.State = StateTraveling
}

func (a *Agent) tickTraveling(env Env, cfg tuning.Agent, src contrib.Source) {
	if a.observeCancel() {
		return
	}
	target := a.task.Pos
	if a.near(target, a.task.Action.WorkRange()) {
		a.Velocity = Vec3f{}
		a.stuck = 0
		a.workTicks = 0
		a.task.Action.OnStart(env.World, target)
		a.State = StateWorking
		return
	}
	a.moveToward(env, cfg, target)
}

func (a *Agent) tickWorking(env Env, cfg tuning.Agent, src contrib.Source) {
	if a.observeCancel() {
		return
	}
	ctx := src.WorkContext()
	action := a.task.Action
	a.workTicks++
	if a.workTicks < action.WorkDuration(ctx) {
		return
	}
	a.workTicks = 0

	if !action.Execute(env.World, a.task.Pos, a, ctx) {
		a.attempts++
		if a.attempts >= cfg.MaxAttempts {
			a.job.FailTask(a.task.ID, a.ID)
			a.abandon()
			a.State = StateIdle
		}
		return
	}

	a.job.CompleteTask(a.task.ID, a.ID)
	if a.job.IsComplete() {
		a.job.MarkCompleted()
	}
	// Materials went into the world.
	a.held = nil
	a.clearTask()
	if action.ShouldReturnAfter(ctx) {
		a.State = StateReturning
	} else {
		a.State = StateIdle
	}
}

func (a *Agent) tickReturning(env Env, cfg tuning.Agent, src contrib.Source) Outcome {
	home := src.Pos()
	if !a.near(home, cfg.FetchRadius) {
		a.moveToward(env, cfg, home)
		return Continue
	}
	a.Velocity = Vec3f{}
	a.deposit(env, src)
	if env.Tasks.HasWorkFor(src) {
		a.idleTicks = 0
		a.State = StateIdle
		return Continue
	}
	return Done
}

// observeCancel drops the task when its job no longer wants this agent on it.
func (a *Agent) observeCancel() bool {
	if a.task == nil || a.job == nil {
		a.abandon()
		a.State = StateIdle
		return true
	}
	st, ok := a.job.TaskStatus(a.task.ID)
	if ok && st == tasks.StatusInProgress && !a.job.Status().Terminal() {
		return false
	}
	a.abandon()
	if len(a.carried) > 0 {
		a.State = StateReturning
	} else {
		a.State = StateIdle
	}
	return true
}

// abandon gives up the current task, keeping fetched materials as loot.
func (a *Agent) abandon() {
	if a.task != nil && a.job != nil {
		a.job.ReleaseTask(a.task.ID, a.ID)
	}
	a.Carry(a.held...)
	a.held = nil
	a.clearTask()
}

func (a *Agent) clearTask() {
	a.job, a.task = nil, nil
	a.workTicks, a.attempts, a.stuck = 0, 0, 0
}

func (a *Agent) deposit(env Env, src contrib.Source) {
	if len(a.carried) == 0 {
		return
	}
	mats := src.Materials()
	var rest []tasks.ItemStack
	for _, s := range a.carried {
		if mats == nil {
			rest = append(rest, s)
			continue
		}
		if r := mats.Insert(s); r.Count > 0 {
			rest = append(rest, r)
		}
	}
	if len(rest) > 0 && env.World != nil {
		env.World.DropItems(src.Pos(), rest)
	}
	a.carried = nil
}

func (a *Agent) discard(env Env) {
	a.abandon()
	if len(a.carried) > 0 && env.World != nil {
		env.World.DropItems(a.Pos.Block(), a.carried)
	}
	a.carried = nil
	a.Velocity = Vec3f{}
}

func (a *Agent) near(pos tasks.Vec3i, r int) bool {
	return a.Pos.dist(toVec3f(pos)) <= float64(r)
}

// moveToward steps straight at dest. An agent that barely moves for
// StuckTicks consecutive ticks is placed on dest.
func (a *Agent) moveToward(env Env, cfg tuning.Agent, dest tasks.Vec3i) {
	goal := toVec3f(dest)
	from := a.Pos
	d := from.dist(goal)

	next := goal
	if d > cfg.Speed {
		k := cfg.Speed / d
		next = Vec3f{
			X: from.X + (goal.X-from.X)*k,
			Y: from.Y + (goal.Y-from.Y)*k,
			Z: from.Z + (goal.Z-from.Z)*k,
		}
	}
	if env.Blocked != nil && next.Block() != from.Block() && env.Blocked(next.Block()) {
		next = from
	}
	a.Velocity = Vec3f{X: next.X - from.X, Y: next.Y - from.Y, Z: next.Z - from.Z}
	a.Pos = next

	if from.dist(next) < minStep {
		a.stuck++
	} else {
		a.stuck = 0
	}
	if a.stuck >= cfg.StuckTicks {
		a.Pos = goal
		a.Velocity = Vec3f{}
		a.stuck = 0
	}
}
