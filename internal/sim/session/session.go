package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hivework.ai/internal/protocol"
	"hivework.ai/internal/sim/agent"
	"hivework.ai/internal/sim/catalogs"
	"hivework.ai/internal/sim/contrib"
	"hivework.ai/internal/sim/jobs"
	"hivework.ai/internal/sim/planner"
	"hivework.ai/internal/sim/pool"
	"hivework.ai/internal/sim/tuning"
	"hivework.ai/internal/sim/world"
)

// ProgressSink receives periodic progress snapshots. Implementations must
// not block the tick.
type ProgressSink interface {
	PublishProgress(msg protocol.ProgressMsg)
}

// EventSink receives job lifecycle events.
type EventSink interface {
	RecordJobEvent(ev protocol.JobEvent)
}

type Config struct {
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs
	Logger   *log.Logger

	// NewJobID overrides uuid job ids, mostly for tests.
	NewJobID func() string
}

type slot struct {
	agent   *agent.Agent
	worldID string
}

// Session is one independent simulation: a job pool, a contribution manager,
// the worlds they act on and the agents currently out working.
type Session struct {
	cfg     tuning.Tuning
	log     *log.Logger
	planner *planner.Planner
	pool    *pool.Pool
	mgr     *contrib.Manager
	newID   func() string

	mu        sync.Mutex
	tick      uint64
	worlds    map[string]*world.Grid
	agents    []slot
	active    map[string]int
	nextAgent uint64
	keys      map[string]string
	reported  map[string]bool
	// shown holds terminal jobs already carried by a progress snapshot.
	shown    map[string]bool
	progress []ProgressSink
	events   []EventSink
}

func New(cfg Config) *Session {
	t := cfg.Tuning
	t.Normalize()
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	newID := cfg.NewJobID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	p := pool.New(t.Pool.CellSize)
	return &Session{
		cfg:      t,
		log:      logger,
		planner:  planner.New(cfg.Catalogs),
		pool:     p,
		mgr:      contrib.NewManager(p),
		newID:    newID,
		worlds:   map[string]*world.Grid{},
		active:   map[string]int{},
		keys:     map[string]string{},
		reported: map[string]bool{},
		shown:    map[string]bool{},
	}
}

func (s *Session) Pool() *pool.Pool          { return s.pool }
func (s *Session) Manager() *contrib.Manager { return s.mgr }
func (s *Session) Tuning() tuning.Tuning     { return s.cfg }

func (s *Session) AddWorld(g *world.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[g.ID()] = g
}

func (s *Session) World(id string) (*world.Grid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.worlds[id]
	return g, ok
}

func (s *Session) RegisterSource(src contrib.Source) {
	s.mgr.RegisterSource(src)
	s.log.Printf("source %s registered: world=%s kind=%s units=%d", src.ID(), src.WorldID(), src.Kind(), src.AvailableUnits())
}

// UnregisterSource detaches a source. Its agents discard themselves on their
// next tick.
func (s *Session) UnregisterSource(id string) int {
	n := s.mgr.UnregisterSource(id)
	s.log.Printf("source %s unregistered: retracted=%d", id, n)
	return n
}

func (s *Session) AddProgressSink(sink ProgressSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, sink)
}

func (s *Session) AddEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sink)
}

func (s *Session) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

func (s *Session) ActiveAgents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

func (s *Session) emitLocked(ev protocol.JobEvent) {
	ev.Tick = s.tick
	for _, sink := range s.events {
		sink.RecordJobEvent(ev)
	}
}

// StartJob plans req and registers the resulting job. Requests whose unique
// key matches an unfinished job are rejected before planning.
func (s *Session) StartJob(req protocol.StartJobReq) (protocol.StartJobResp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.startJobLocked(req)
	if err != nil {
		s.emitLocked(protocol.JobEvent{
			Type:    protocol.EventJobRejected,
			OwnerID: req.OwnerID,
			WorldID: req.WorldID,
			Kind:    strings.ToUpper(req.Kind),
			Code:    ErrorCode(err),
			Reason:  err.Error(),
		})
		s.log.Printf("job rejected: owner=%s world=%s kind=%s err=%v", req.OwnerID, req.WorldID, req.Kind, err)
	}
	return resp, err
}

func (s *Session) startJobLocked(req protocol.StartJobReq) (protocol.StartJobResp, error) {
	grid, ok := s.worlds[req.WorldID]
	if !ok {
		return protocol.StartJobResp{}, fmt.Errorf("%w: %q", ErrUnknownWorld, req.WorldID)
	}
	key := strings.TrimSpace(req.UniqueKey)
	if key != "" {
		if id, ok := s.keys[key]; ok {
			if j := s.pool.Job(id); j != nil && !j.Status().Terminal() {
				return protocol.StartJobResp{}, fmt.Errorf("%w: key %q held by %s", ErrDuplicateJob, key, id)
			}
			delete(s.keys, key)
		}
	}

	plan, err := s.planner.Plan(req, grid)
	if err != nil {
		return protocol.StartJobResp{}, err
	}
	if s.mgr.SourcesInWorld(req.WorldID) == 0 {
		return protocol.StartJobResp{}, ErrNoSources
	}
	if len(s.mgr.SourcesForJob(req.WorldID, plan.Center)) == 0 {
		return protocol.StartJobResp{}, fmt.Errorf("%w: center %v", ErrOutOfRange, plan.Center)
	}

	j := jobs.New(jobs.Spec{
		ID:            s.newID(),
		WorldID:       req.WorldID,
		Center:        plan.Center,
		RequiredUnits: plan.RequiredUnits,
		OwnerID:       req.OwnerID,
		UniqueKey:     key,
		Kind:          plan.Kind,
		CreatedTick:   s.tick,
	})
	j.AddTasks(plan.Tasks...)
	s.pool.Register(j)
	contributed := s.mgr.ContributeToJob(j)
	if key != "" {
		s.keys[key] = j.ID
	}

	s.emitLocked(protocol.JobEvent{
		Type:        protocol.EventJobStarted,
		JobID:       j.ID,
		OwnerID:     j.OwnerID,
		WorldID:     j.WorldID,
		Kind:        j.Kind,
		Status:      string(j.Status()),
		Tasks:       j.TaskCount(),
		Required:    j.RequiredUnits,
		Contributed: contributed,
	})
	s.log.Printf("job %s started: owner=%s kind=%s tasks=%d required=%d contributed=%d",
		j.ID, j.OwnerID, j.Kind, j.TaskCount(), j.RequiredUnits, contributed)

	return protocol.StartJobResp{
		Type:          protocol.TypeJobStarted,
		JobID:         j.ID,
		Status:        string(j.Status()),
		TaskCount:     j.TaskCount(),
		RequiredUnits: j.RequiredUnits,
		Contributed:   contributed,
	}, nil
}

func (s *Session) CancelJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.pool.Job(jobID)
	if j == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	s.cancelLocked(j)
	return nil
}

// CancelAllJobs cancels every unfinished job of ownerID and returns how many
// were cancelled.
func (s *Session) CancelAllJobs(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.pool.All() {
		if j.OwnerID != ownerID || j.Status().Terminal() {
			continue
		}
		s.cancelLocked(j)
		n++
	}
	return n
}

func (s *Session) cancelLocked(j *jobs.Job) {
	if j.Status().Terminal() {
		return
	}
	j.Cancel()
	s.reported[j.ID] = true
	s.emitLocked(protocol.JobEvent{
		Type:    protocol.EventJobCancelled,
		JobID:   j.ID,
		OwnerID: j.OwnerID,
		WorldID: j.WorldID,
		Kind:    j.Kind,
		Status:  string(j.Status()),
		Tasks:   j.TaskCount(),
	})
	s.log.Printf("job %s cancelled: owner=%s", j.ID, j.OwnerID)
}

// Jobs snapshots every registered job.
func (s *Session) Jobs() []protocol.JobProgress {
	all := s.pool.All()
	out := make([]protocol.JobProgress, 0, len(all))
	for _, j := range all {
		out = append(out, jobProgress(j))
	}
	return out
}

func jobProgress(j *jobs.Job) protocol.JobProgress {
	c := j.Counts()
	return protocol.JobProgress{
		JobID:      j.ID,
		OwnerID:    j.OwnerID,
		WorldID:    j.WorldID,
		Kind:       j.Kind,
		Status:     string(j.Status()),
		Total:      c.Total,
		Completed:  c.Completed,
		Pending:    c.Pending,
		InProgress: c.InProgress,
		Cancelled:  c.Cancelled,
		Required:   j.RequiredUnits,
		Committed:  j.ContributedUnits(),
		Progress:   j.Progress(),
	}
}

func (s *Session) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step advances the simulation by one tick: spawn agents, tick them, then
// run the progress and cleanup cadences. Progress goes first so a finished
// job is published once in its terminal state before cleanup drops it.
func (s *Session) Step() {
	s.mu.Lock()
	s.tick++
	s.spawnLocked()
	s.tickAgentsLocked()
	s.reportCompletedLocked()

	var (
		msg   protocol.ProgressMsg
		sinks []ProgressSink
	)
	if s.tick%uint64(s.cfg.Session.ProgressEveryTicks) == 0 && len(s.progress) > 0 {
		msg = s.progressLocked()
		sinks = append(sinks, s.progress...)
	}
	if s.tick%uint64(s.cfg.Session.CleanupEveryTicks) == 0 {
		s.cleanupLocked()
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.PublishProgress(msg)
	}
}

// spawnLocked releases at most one agent per source per tick, while the
// source has fewer agents out than units committed and reachable work exists.
func (s *Session) spawnLocked() {
	for _, src := range s.mgr.Sources() {
		if _, ok := s.worlds[src.WorldID()]; !ok {
			continue
		}
		sid := src.ID()
		if s.active[sid] >= s.mgr.CommittedUnits(sid) {
			continue
		}
		if !s.pool.HasWorkFor(src) || !src.TakeUnit() {
			continue
		}
		s.nextAgent++
		a := agent.New(fmt.Sprintf("%s#%d", sid, s.nextAgent), src)
		s.agents = append(s.agents, slot{agent: a, worldID: src.WorldID()})
		s.active[sid]++
	}
}

func (s *Session) envFor(worldID string) agent.Env {
	env := agent.Env{
		Sources: s.mgr,
		Tasks:   s.pool,
		Tuning:  s.cfg.Agent,
	}
	if g, ok := s.worlds[worldID]; ok {
		env.World = g
		env.Blocked = g.Solid
	}
	return env
}

func (s *Session) tickAgentsLocked() {
	if len(s.agents) == 0 {
		return
	}
	envs := map[string]agent.Env{}
	for _, sl := range s.agents {
		if _, ok := envs[sl.worldID]; !ok {
			envs[sl.worldID] = s.envFor(sl.worldID)
		}
	}

	outcomes := make([]agent.Outcome, len(s.agents))
	if workers := s.cfg.Session.AgentWorkers; workers > 1 {
		var g errgroup.Group
		g.SetLimit(workers)
		for i, sl := range s.agents {
			g.Go(func() error {
				outcomes[i] = sl.agent.Tick(envs[sl.worldID])
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, sl := range s.agents {
			outcomes[i] = sl.agent.Tick(envs[sl.worldID])
		}
	}

	kept := s.agents[:0]
	for i, sl := range s.agents {
		switch outcomes[i] {
		case agent.Continue:
			kept = append(kept, sl)
			continue
		case agent.Done:
			if src, ok := s.mgr.Source(sl.agent.SourceID); ok {
				src.ReturnUnit()
			}
		case agent.Discarded:
			s.log.Printf("agent %s discarded: source %s gone", sl.agent.ID, sl.agent.SourceID)
		}
		s.active[sl.agent.SourceID]--
		if s.active[sl.agent.SourceID] <= 0 {
			delete(s.active, sl.agent.SourceID)
		}
	}
	for i := len(kept); i < len(s.agents); i++ {
		s.agents[i] = slot{}
	}
	s.agents = kept
}

func (s *Session) reportCompletedLocked() {
	for _, j := range s.pool.All() {
		if s.reported[j.ID] {
			continue
		}
		if !j.Status().Terminal() {
			if j.IsComplete() {
				j.MarkCompleted()
			} else {
				continue
			}
		}
		s.reported[j.ID] = true
		s.emitLocked(protocol.JobEvent{
			Type:    protocol.EventJobCompleted,
			JobID:   j.ID,
			OwnerID: j.OwnerID,
			WorldID: j.WorldID,
			Kind:    j.Kind,
			Status:  string(j.Status()),
			Tasks:   j.TaskCount(),
		})
		s.log.Printf("job %s completed: owner=%s tasks=%d ticks=%d", j.ID, j.OwnerID, j.TaskCount(), s.tick-j.CreatedTick)
	}
}

// cleanupLocked drops finished jobs and tops up jobs still short of their
// target from sources that gained capacity.
func (s *Session) cleanupLocked() {
	dead := s.pool.Cleanup(func(j *jobs.Job) bool {
		return len(s.progress) > 0 && !s.shown[j.ID]
	})
	dropped := s.mgr.Cleanup()
	for _, id := range dead {
		delete(s.reported, id)
		delete(s.shown, id)
	}
	for key, id := range s.keys {
		if s.pool.Job(id) == nil {
			delete(s.keys, key)
		}
	}
	for _, j := range s.pool.All() {
		if j.Status().Terminal() || j.ContributedUnits() >= j.Target() {
			continue
		}
		s.mgr.ContributeToJob(j)
	}
	if len(dead) > 0 {
		s.log.Printf("cleanup: removed %d jobs, %d funding records", len(dead), dropped)
	}
}

func (s *Session) progressLocked() protocol.ProgressMsg {
	msg := protocol.ProgressMsg{
		Type:            protocol.TypeProgress,
		ProtocolVersion: protocol.Version,
		Tick:            s.tick,
		ActiveAgents:    len(s.agents),
		Jobs:            []protocol.JobProgress{},
	}
	for _, j := range s.pool.All() {
		p := jobProgress(j)
		msg.TotalTasks += p.Total
		msg.CompletedTasks += p.Completed
		msg.Jobs = append(msg.Jobs, p)
		if j.Status().Terminal() {
			s.shown[j.ID] = true
		}
	}
	return msg
}
