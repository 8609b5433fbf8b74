package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hivework.ai/internal/protocol"
	"hivework.ai/internal/sim/catalogs"
	"hivework.ai/internal/sim/jobs"
	"hivework.ai/internal/sim/sources"
	"hivework.ai/internal/sim/tasks"
	"hivework.ai/internal/sim/tuning"
	"hivework.ai/internal/sim/world"
)

type recorder struct {
	mu       sync.Mutex
	progress []protocol.ProgressMsg
	events   []protocol.JobEvent
}

func (r *recorder) PublishProgress(msg protocol.ProgressMsg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, msg)
}

func (r *recorder) RecordJobEvent(ev protocol.JobEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestSession(t *testing.T, workers int) (*Session, *world.Grid, *sources.Hive, *recorder) {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	tu := tuning.Defaults()
	tu.Session.AgentWorkers = workers
	n := 0
	s := New(Config{
		Tuning:   tu,
		Catalogs: cats,
		NewJobID: func() string { n++; return fmt.Sprintf("job-%d", n) },
	})
	g := world.NewGrid("W", cats)
	s.AddWorld(g)
	h := sources.NewHive(sources.Config{
		ID: "hive", WorldID: "W", OwnerID: "alice", Units: 8, MaxContribution: 8, WorkRange: 24,
		Work: tasks.WorkContext{InfiniteMaterials: true, PickupEnabled: true},
	})
	s.RegisterSource(h)
	rec := &recorder{}
	s.AddProgressSink(rec)
	s.AddEventSink(rec)
	return s, g, h, rec
}

func buildReq(key string) protocol.StartJobReq {
	return protocol.StartJobReq{
		Type:        protocol.TypeStartJob,
		OwnerID:     "alice",
		WorldID:     "W",
		Kind:        protocol.JobBuild,
		UniqueKey:   key,
		BlueprintID: "hut_small",
		Anchor:      [3]int{4, 0, 2},
	}
}

func stepUntil(s *Session, max int, done func() bool) bool {
	for i := 0; i < max; i++ {
		s.Step()
		if done() {
			return true
		}
	}
	return false
}

func testBuildsBlueprint(t *testing.T, workers int) {
	s, g, h, rec := newTestSession(t, workers)
	resp, err := s.StartJob(buildReq(""))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.JobID != "job-1" || resp.TaskCount != 8 || resp.Contributed != 8 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	j := s.Pool().Job(resp.JobID)

	if !stepUntil(s, 2000, func() bool { return j.Status() == jobs.StatusCompleted }) {
		t.Fatalf("job not completed: %+v", j.Counts())
	}
	cats, _ := catalogs.Load("../../../configs")
	anchor := tasks.Vec3i{X: 4, Z: 2}
	for _, b := range cats.Blueprints.ByID["hut_small"].Blocks {
		pos := anchor.Add(tasks.Vec3i{X: b.Pos[0], Y: b.Pos[1], Z: b.Pos[2]})
		if got := g.BlockAt(pos); got != b.Block {
			t.Fatalf("block at %+v = %s want %s", pos, got, b.Block)
		}
	}

	// Agents go home once nothing is left and every unit comes back.
	if !stepUntil(s, 500, func() bool { return s.ActiveAgents() == 0 }) {
		t.Fatalf("agents still out: %d", s.ActiveAgents())
	}
	if h.AvailableUnits() != 8 {
		t.Fatalf("units returned=%d want 8", h.AvailableUnits())
	}
	types := rec.eventTypes()
	if len(types) != 2 || types[0] != protocol.EventJobStarted || types[1] != protocol.EventJobCompleted {
		t.Fatalf("events: %v", types)
	}
	for i := 0; i < 20; i++ {
		s.Step()
	}
	if s.Pool().Len() != 0 {
		t.Fatalf("completed job should be cleaned up")
	}
}

func TestSession_BuildsBlueprint(t *testing.T) {
	testBuildsBlueprint(t, 1)
}

func TestSession_BuildsBlueprintParallel(t *testing.T) {
	testBuildsBlueprint(t, 4)
}

func TestSession_Rejections(t *testing.T) {
	s, g, _, rec := newTestSession(t, 1)

	if _, err := s.StartJob(buildReq("k1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := s.StartJob(buildReq("k1"))
	if !errors.Is(err, ErrDuplicateJob) || ErrorCode(err) != protocol.ErrConflict {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}

	far := buildReq("")
	far.Anchor = [3]int{100, 0, 0}
	if _, err := s.StartJob(far); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}

	other := world.NewGrid("NETHER", nil)
	s.AddWorld(other)
	nether := protocol.StartJobReq{OwnerID: "alice", WorldID: "NETHER", Kind: protocol.JobCustom,
		Tasks: []protocol.TaskSpec{{Kind: "PLACE", Pos: [3]int{0, 0, 0}, Block: "DIRT"}}}
	if _, err := s.StartJob(nether); !errors.Is(err, ErrNoSources) || ErrorCode(err) != protocol.ErrNoSource {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}

	unknown := buildReq("")
	unknown.WorldID = "MOON"
	if _, err := s.StartJob(unknown); ErrorCode(err) != protocol.ErrBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}

	bp := buildReq("")
	bp.BlueprintID = "castle"
	if _, err := s.StartJob(bp); ErrorCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("expected invalid target, got %v", err)
	}

	g.Fill(tasks.Vec3i{X: 20}, tasks.Vec3i{X: 23}, "COBBLESTONE")
	wall := protocol.StartJobReq{OwnerID: "alice", WorldID: "W", Kind: protocol.JobBuild, BlueprintID: "wall_stone", Anchor: [3]int{20, 0, 0}}
	if _, err := s.StartJob(wall); ErrorCode(err) != protocol.ErrNothingToDo {
		t.Fatalf("expected nothing to do, got %v", err)
	}

	rejected := 0
	for _, ty := range rec.eventTypes() {
		if ty == protocol.EventJobRejected {
			rejected++
		}
	}
	if rejected != 6 {
		t.Fatalf("rejected events=%d want 6", rejected)
	}
}

func TestSession_CancelFreesUniqueKey(t *testing.T) {
	s, _, _, _ := newTestSession(t, 1)
	resp, err := s.StartJob(buildReq("k1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.CancelJob(resp.JobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.CancelJob("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.StartJob(buildReq("k1")); err != nil {
		t.Fatalf("key should be free after cancel: %v", err)
	}
}

func TestSession_CancelAllJobs(t *testing.T) {
	s, _, _, _ := newTestSession(t, 1)
	for i := 0; i < 3; i++ {
		req := buildReq(fmt.Sprintf("k%d", i))
		req.Anchor = [3]int{i * 4, 0, -6}
		if _, err := s.StartJob(req); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	bob := protocol.StartJobReq{OwnerID: "bob", WorldID: "W", Kind: protocol.JobCustom,
		Tasks: []protocol.TaskSpec{{Kind: "PLACE", Pos: [3]int{1, 5, 1}, Block: "DIRT"}}}
	if _, err := s.StartJob(bob); err != nil {
		t.Fatalf("start bob: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Step()
	}
	if n := s.CancelAllJobs("alice"); n != 3 {
		t.Fatalf("cancelled %d want 3", n)
	}
	if n := s.CancelAllJobs("alice"); n != 0 {
		t.Fatalf("second cancel should be a no-op, got %d", n)
	}
	for _, p := range s.Jobs() {
		want := string(jobs.StatusCancelled)
		if p.OwnerID == "bob" {
			want = string(jobs.StatusInProgress)
		}
		if p.Status != want && !(p.OwnerID == "bob" && p.Status == string(jobs.StatusCompleted)) {
			t.Fatalf("job %s owner=%s status=%s", p.JobID, p.OwnerID, p.Status)
		}
	}
}

func TestSession_ProgressEveryTicks(t *testing.T) {
	s, _, _, rec := newTestSession(t, 1)
	if _, err := s.StartJob(buildReq("")); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 45; i++ {
		s.Step()
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.progress) != 2 {
		t.Fatalf("progress messages=%d want 2", len(rec.progress))
	}
	first := rec.progress[0]
	if first.Tick != 20 || first.TotalTasks != 8 || len(first.Jobs) != 1 {
		t.Fatalf("first progress: %+v", first)
	}
	if err := protocol.ValidateValue(protocol.SchemaProgress, first); err != nil {
		t.Fatalf("progress does not match schema: %v", err)
	}
}

func TestSession_UnregisteredSourceDiscardsAgents(t *testing.T) {
	s, _, _, _ := newTestSession(t, 1)
	if _, err := s.StartJob(buildReq("")); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.Step()
	}
	if s.ActiveAgents() == 0 {
		t.Fatalf("expected agents out")
	}
	if n := s.UnregisterSource("hive"); n != 8 {
		t.Fatalf("retracted=%d want 8", n)
	}
	s.Step()
	if s.ActiveAgents() != 0 {
		t.Fatalf("agents should discard themselves, %d left", s.ActiveAgents())
	}
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	s, _, _, _ := newTestSession(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}
	if s.CurrentTick() == 0 {
		t.Fatalf("run loop never ticked")
	}
}

func TestSession_UnderfundedJobPicksUpNewUnits(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	s := New(Config{Tuning: tuning.Defaults(), Catalogs: cats})
	s.AddWorld(world.NewGrid("W", cats))
	h := sources.NewHive(sources.Config{ID: "hive", WorldID: "W", MaxContribution: 8, WorkRange: 24,
		Work: tasks.WorkContext{InfiniteMaterials: true}})
	s.RegisterSource(h)

	resp, err := s.StartJob(buildReq(""))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.Contributed != 0 || resp.Status != string(jobs.StatusWaitingForCapacity) {
		t.Fatalf("empty hive should leave the job waiting: %+v", resp)
	}
	j := s.Pool().Job(resp.JobID)

	h.AddUnits(8)
	for i := 0; i < 19; i++ {
		s.Step()
	}
	if j.ContributedUnits() != 0 {
		t.Fatalf("funding should wait for the cleanup tick")
	}
	s.Step()
	if j.ContributedUnits() != 8 || j.Status() != jobs.StatusInProgress {
		t.Fatalf("after cleanup: contributed=%d status=%s", j.ContributedUnits(), j.Status())
	}
}

func TestSession_FinishedJobPublishedOnceBeforeCleanup(t *testing.T) {
	s, _, _, rec := newTestSession(t, 1)
	resp, err := s.StartJob(buildReq(""))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	j := s.Pool().Job(resp.JobID)
	if !stepUntil(s, 2000, func() bool { return j.Status() == jobs.StatusCompleted }) {
		t.Fatalf("job not completed: %+v", j.Counts())
	}
	for i := 0; i < 200; i++ {
		s.Step()
	}
	if s.Pool().Len() != 0 {
		t.Fatalf("completed job should be cleaned up")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	completed := 0
	last := -1
	for i, msg := range rec.progress {
		for _, p := range msg.Jobs {
			if p.JobID != resp.JobID || p.Status != string(jobs.StatusCompleted) {
				continue
			}
			completed++
			last = i
			if p.Progress != 1 || p.Completed != 8 || msg.CompletedTasks != 8 {
				t.Fatalf("terminal snapshot: msg=%+v job=%+v", msg, p)
			}
		}
	}
	if completed != 1 {
		t.Fatalf("COMPLETED snapshots=%d want 1", completed)
	}
	for _, msg := range rec.progress[last+1:] {
		if len(msg.Jobs) != 0 {
			t.Fatalf("job reported after cleanup at tick %d", msg.Tick)
		}
	}
}

func TestSession_HugeAreaRejectedWithoutBlocking(t *testing.T) {
	s, _, _, _ := newTestSession(t, 1)
	req := protocol.StartJobReq{OwnerID: "alice", WorldID: "W", Kind: protocol.JobClear,
		Min: [3]int{-(1 << 62), 0, 0}, Max: [3]int{1 << 62, 0, 0}}

	done := make(chan error, 1)
	go func() {
		_, err := s.StartJob(req)
		done <- err
	}()
	select {
	case err := <-done:
		if ErrorCode(err) != protocol.ErrBadRequest {
			t.Fatalf("expected bad request, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("StartJob did not return")
	}
	s.Step()
	if s.CurrentTick() != 1 {
		t.Fatalf("tick=%d want 1", s.CurrentTick())
	}
}
