package pool

import (
	"sort"
	"sync"

	"hivework.ai/internal/sim/jobs"
	"hivework.ai/internal/sim/tasks"
)

const DefaultCellSize = 16

// Locator is the part of a source the pool needs for range queries.
type Locator interface {
	ID() string
	WorldID() string
	Pos() tasks.Vec3i
	WorkRange() int
}

type cellKey struct {
	World string
	X     int
	Y     int
	Z     int
}

// Pool is the registry of active jobs, indexed by id and by (world, cell).
type Pool struct {
	cellSize int

	mu    sync.RWMutex
	byID  map[string]*jobs.Job
	cells map[cellKey]map[string]struct{}
	keyOf map[string]cellKey
}

func New(cellSize int) *Pool {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Pool{
		cellSize: cellSize,
		byID:     map[string]*jobs.Job{},
		cells:    map[cellKey]map[string]struct{}{},
		keyOf:    map[string]cellKey{},
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func (p *Pool) cellOf(worldID string, pos tasks.Vec3i) cellKey {
	return cellKey{
		World: worldID,
		X:     floorDiv(pos.X, p.cellSize),
		Y:     floorDiv(pos.Y, p.cellSize),
		Z:     floorDiv(pos.Z, p.cellSize),
	}
}

func (p *Pool) Register(j *jobs.Job) {
	if j == nil || j.ID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unregisterLocked(j.ID)

	key := p.cellOf(j.WorldID, j.Center)
	bucket := p.cells[key]
	if bucket == nil {
		bucket = map[string]struct{}{}
		p.cells[key] = bucket
	}
	bucket[j.ID] = struct{}{}
	p.byID[j.ID] = j
	p.keyOf[j.ID] = key
}

func (p *Pool) Unregister(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unregisterLocked(jobID)
}

func (p *Pool) unregisterLocked(jobID string) {
	key, ok := p.keyOf[jobID]
	if !ok {
		return
	}
	if bucket := p.cells[key]; bucket != nil {
		delete(bucket, jobID)
		if len(bucket) == 0 {
			delete(p.cells, key)
		}
	}
	delete(p.keyOf, jobID)
	delete(p.byID, jobID)
}

func (p *Pool) Get(jobID string) (*jobs.Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	j, ok := p.byID[jobID]
	return j, ok
}

// Job satisfies the lookup interfaces of the contribution manager and agents.
func (p *Pool) Job(jobID string) *jobs.Job {
	j, _ := p.Get(jobID)
	return j
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// All returns every registered job ordered by id.
func (p *Pool) All() []*jobs.Job {
	p.mu.RLock()
	out := make([]*jobs.Job, 0, len(p.byID))
	for _, j := range p.byID {
		out = append(out, j)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// InRange returns jobs of worldID whose center lies within r of pos, ordered
// by id. Only grid cells that can intersect the sphere are visited.
func (p *Pool) InRange(worldID string, pos tasks.Vec3i, r int) []*jobs.Job {
	if r < 0 {
		return nil
	}
	center := p.cellOf(worldID, pos)
	span := (r + p.cellSize - 1) / p.cellSize
	r2 := r * r

	p.mu.RLock()
	var out []*jobs.Job
	for x := center.X - span; x <= center.X+span; x++ {
		for y := center.Y - span; y <= center.Y+span; y++ {
			for z := center.Z - span; z <= center.Z+span; z++ {
				bucket := p.cells[cellKey{World: worldID, X: x, Y: y, Z: z}]
				for id := range bucket {
					j := p.byID[id]
					if j == nil || j.Center.DistSq(pos) > r2 {
						continue
					}
					out = append(out, j)
				}
			}
		}
	}
	p.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (p *Pool) ForSource(src Locator) []*jobs.Job {
	if src == nil {
		return nil
	}
	return p.InRange(src.WorldID(), src.Pos(), src.WorkRange())
}

// TaskForAgent claims a pending task for agentID from the jobs src can reach.
// Jobs src already funds the most are tried first; ties go to the lower id.
func (p *Pool) TaskForAgent(src Locator, agentID string) (*jobs.Job, *tasks.Task, bool) {
	cands := p.ForSource(src)
	if len(cands) == 0 {
		return nil, nil, false
	}
	sid := src.ID()
	share := make(map[string]int, len(cands))
	for _, j := range cands {
		share[j.ID] = j.Contribution(sid)
	}
	sort.SliceStable(cands, func(a, b int) bool {
		sa, sb := share[cands[a].ID], share[cands[b].ID]
		if sa != sb {
			return sa > sb
		}
		return cands[a].ID < cands[b].ID
	})
	for _, j := range cands {
		if !j.Ready() {
			continue
		}
		if t, ok := j.ClaimNextTask(agentID); ok {
			return j, t, true
		}
	}
	return nil, nil, false
}

// HasWorkFor reports whether any ready job in range of src still has
// pending tasks.
func (p *Pool) HasWorkFor(src Locator) bool {
	for _, j := range p.ForSource(src) {
		if j.Ready() && j.HasPending() {
			return true
		}
	}
	return false
}

// Cleanup unregisters completed and cancelled jobs and returns their ids.
// Terminal jobs for which hold returns true stay registered until a later
// pass; a nil hold removes every terminal job.
func (p *Pool) Cleanup(hold func(j *jobs.Job) bool) []string {
	var dead []string
	for _, j := range p.All() {
		if j.Status().Terminal() && (hold == nil || !hold(j)) {
			dead = append(dead, j.ID)
		}
	}
	if len(dead) == 0 {
		return nil
	}
	p.mu.Lock()
	for _, id := range dead {
		p.unregisterLocked(id)
	}
	p.mu.Unlock()
	return dead
}
