package contrib

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"hivework.ai/internal/sim/jobs"
	"hivework.ai/internal/sim/pool"
	"hivework.ai/internal/sim/tasks"
)

type fakeSource struct {
	id        string
	world     string
	pos       tasks.Vec3i
	kind      SourceKind
	available int
	max       int
	r         int
}

func (s *fakeSource) ID() string                      { return s.id }
func (s *fakeSource) WorldID() string                 { return s.world }
func (s *fakeSource) Pos() tasks.Vec3i                { return s.pos }
func (s *fakeSource) Kind() SourceKind                { return s.kind }
func (s *fakeSource) OwnerID() string                 { return "" }
func (s *fakeSource) AvailableUnits() int             { return s.available }
func (s *fakeSource) MaxContribution() int            { return s.max }
func (s *fakeSource) WorkRange() int                  { return s.r }
func (s *fakeSource) InRange(pos tasks.Vec3i) bool    { return WithinRange(s.pos, s.r, pos) }
func (s *fakeSource) WorkContext() tasks.WorkContext  { return tasks.WorkContext{} }
func (s *fakeSource) Materials() tasks.MaterialSource { return nil }
func (s *fakeSource) TakeUnit() bool                  { return false }
func (s *fakeSource) ReturnUnit()                     {}

func src(id string, kind SourceKind, available, max, r int) *fakeSource {
	return &fakeSource{id: id, world: "W", kind: kind, available: available, max: max, r: r}
}

func jobWithTasks(id string, required, n int) *jobs.Job {
	j := jobs.New(jobs.Spec{ID: id, WorldID: "W", RequiredUnits: required})
	for i := 0; i < n; i++ {
		j.AddTasks(tasks.Remove(tasks.Vec3i{X: i}, 0))
	}
	return j
}

func TestWithinRange_Boundary(t *testing.T) {
	origin := tasks.Vec3i{}
	assert.True(t, WithinRange(origin, 5, tasks.Vec3i{X: 3, Y: 4}), "distSq 25 == r²")
	assert.True(t, WithinRange(origin, 5, tasks.Vec3i{X: 5}))
	// 5² + 1 = 26 just beyond
	assert.False(t, WithinRange(origin, 5, tasks.Vec3i{X: 5, Y: 1}))
	assert.False(t, WithinRange(origin, -1, origin))
}

func TestTotalCapacity_CapsEachSource(t *testing.T) {
	m := NewManager(pool.New(16))
	m.RegisterSource(src("pack", KindPortable, 10, 10, 20))
	m.RegisterSource(src("hive", KindStationary, 50, 32, 20))
	far := src("far", KindStationary, 50, 32, 5)
	far.pos = tasks.Vec3i{X: 100}
	m.RegisterSource(far)
	other := src("other", KindStationary, 50, 32, 50)
	other.world = "NETHER"
	m.RegisterSource(other)

	assert.Equal(t, 42, m.TotalCapacity("W", tasks.Vec3i{X: 1}))
}

func TestSourcesForJob_StationaryFirst(t *testing.T) {
	m := NewManager(pool.New(16))
	m.RegisterSource(src("a-pack", KindPortable, 1, 1, 10))
	m.RegisterSource(src("z-hive", KindStationary, 1, 1, 10))
	m.RegisterSource(src("b-hive", KindStationary, 1, 1, 10))

	var got []string
	for _, s := range m.SourcesForJob("W", tasks.Vec3i{}) {
		got = append(got, s.ID())
	}
	assert.Equal(t, []string{"b-hive", "z-hive", "a-pack"}, got)
}

func TestContributeToJob_Scenario(t *testing.T) {
	p := pool.New(16)
	m := NewManager(p)
	m.RegisterSource(src("A", KindStationary, 3, 3, 10))
	m.RegisterSource(src("B", KindStationary, 10, 4, 10))

	j := jobWithTasks("J1", 5, 10)
	p.Register(j)

	added := m.ContributeToJob(j)
	assert.Equal(t, 7, added)
	assert.Equal(t, 7, j.ContributedUnits())
	assert.Equal(t, map[string]int{"A": 3, "B": 4}, j.Contributions())
	assert.Equal(t, jobs.StatusInProgress, j.Status())

	// Caps already reached: a second pass adds nothing.
	assert.Equal(t, 0, m.ContributeToJob(j))
}

func TestContributeToJob_StopsAtTarget(t *testing.T) {
	p := pool.New(16)
	m := NewManager(p)
	m.RegisterSource(src("hive", KindStationary, 10, 10, 10))
	m.RegisterSource(src("pack", KindPortable, 10, 10, 10))

	j := jobWithTasks("J1", 2, 3)
	p.Register(j)
	assert.Equal(t, 3, m.ContributeToJob(j))
	assert.Equal(t, map[string]int{"hive": 3}, j.Contributions(), "stationary drawn first, pack untouched")
	assert.Empty(t, m.ContributedBy("pack"))
}

func TestContributeToJob_NeverExceedsPerSourceCap(t *testing.T) {
	p := pool.New(16)
	m := NewManager(p)
	s := src("hive", KindStationary, 2, 5, 10)
	m.RegisterSource(s)

	j := jobWithTasks("J1", 0, 20)
	p.Register(j)
	assert.Equal(t, 2, m.ContributeToJob(j))
	s.available = 10
	assert.Equal(t, 3, m.ContributeToJob(j))
	assert.Equal(t, 5, j.Contribution("hive"))
	assert.Equal(t, 0, m.ContributeToJob(j))
}

func TestUnregisterSource_RetractsContributions(t *testing.T) {
	p := pool.New(16)
	m := NewManager(p)
	m.RegisterSource(src("A", KindStationary, 3, 3, 10))
	m.RegisterSource(src("B", KindStationary, 10, 4, 10))
	j := jobWithTasks("J1", 5, 10)
	p.Register(j)
	require.Equal(t, 7, m.ContributeToJob(j))

	before := j.ContributedUnits()
	k := j.Contribution("B")
	assert.Equal(t, k, m.UnregisterSource("B"))
	assert.Equal(t, before-k, j.ContributedUnits())
	for _, s := range m.SourcesForJob("W", j.Center) {
		assert.NotEqual(t, "B", s.ID())
	}
	_, ok := j.Contributions()["B"]
	assert.False(t, ok)
	assert.Equal(t, jobs.StatusInProgress, j.Status(), "withdrawal never pauses a started job")
}

func TestRemoveContribution_Symmetric(t *testing.T) {
	p := pool.New(16)
	m := NewManager(p)
	m.RegisterSource(src("A", KindStationary, 3, 3, 10))
	j := jobWithTasks("J1", 1, 3)
	p.Register(j)
	require.Equal(t, 3, m.ContributeToJob(j))

	assert.Equal(t, 3, m.RemoveContribution("A", "J1"))
	assert.Equal(t, 0, j.ContributedUnits())
	assert.Empty(t, m.ContributedBy("A"))
	assert.Equal(t, 0, m.RemoveContribution("A", "J1"))
}

func TestCleanup_DropsDeadJobs(t *testing.T) {
	p := pool.New(16)
	m := NewManager(p)
	m.RegisterSource(src("A", KindStationary, 10, 10, 10))
	live := jobWithTasks("J1", 1, 1)
	gone := jobWithTasks("J2", 1, 1)
	done := jobWithTasks("J3", 1, 1)
	for _, j := range []*jobs.Job{live, gone, done} {
		p.Register(j)
		m.ContributeToJob(j)
	}
	assert.Equal(t, 3, m.CommittedUnits("A"))

	p.Unregister("J2")
	done.Cancel()
	assert.Equal(t, 1, m.CommittedUnits("A"))
	assert.Equal(t, 2, m.Cleanup())
	assert.Equal(t, []string{"J1"}, m.ContributedBy("A"))
}

func TestContributeToJob_IgnoresTerminalJobs(t *testing.T) {
	p := pool.New(16)
	m := NewManager(p)
	m.RegisterSource(src("A", KindStationary, 10, 10, 10))
	j := jobWithTasks("J1", 1, 1)
	j.Cancel()
	p.Register(j)
	assert.Equal(t, 0, m.ContributeToJob(j))
}

func TestContributeToJob_ConcurrentJobsWithUnregister(t *testing.T) {
	p := pool.New(16)
	m := NewManager(p)
	a := src("A", KindStationary, 4, 3, 10)
	b := src("B", KindPortable, 4, 2, 10)
	m.RegisterSource(a)
	m.RegisterSource(b)

	var all []*jobs.Job
	for i := 0; i < 40; i++ {
		j := jobWithTasks(fmt.Sprintf("J%02d", i), 5, 1)
		p.Register(j)
		all = append(all, j)
	}

	var g errgroup.Group
	for _, j := range all {
		g.Go(func() error {
			m.ContributeToJob(j)
			m.ContributeToJob(j)
			return nil
		})
	}
	g.Go(func() error {
		m.UnregisterSource("B")
		return nil
	})
	require.NoError(t, g.Wait())

	// Whatever B committed before it left was retracted with it.
	for _, j := range all {
		assert.Equal(t, 3, j.Contribution("A"), j.ID)
		assert.Equal(t, 0, j.Contribution("B"), j.ID)
		assert.Equal(t, 3, j.ContributedUnits(), j.ID)
	}
	assert.Len(t, m.ContributedBy("A"), 40)
	assert.Empty(t, m.ContributedBy("B"))
}
