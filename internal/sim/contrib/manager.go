package contrib

import (
	"sort"
	"sync"

	"hivework.ai/internal/sim/jobs"
	"hivework.ai/internal/sim/tasks"
)

// JobLookup resolves job ids; the pool implements it.
type JobLookup interface {
	Job(jobID string) *jobs.Job
}

// Manager is the source registry plus the record of which source funds which
// job. Every contribution change goes through it so the job's own map and the
// per-source record move together.
type Manager struct {
	jobs JobLookup

	mu      sync.Mutex
	sources map[string]Source
	funding map[string]map[string]struct{} // source id -> job ids
}

func NewManager(lookup JobLookup) *Manager {
	return &Manager{
		jobs:    lookup,
		sources: map[string]Source{},
		funding: map[string]map[string]struct{}{},
	}
}

func (m *Manager) RegisterSource(src Source) {
	if src == nil || src.ID() == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID()] = src
}

// UnregisterSource drops the source and retracts everything it committed.
// It returns the total units withdrawn.
func (m *Manager) UnregisterSource(sourceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, sourceID)
	withdrawn := 0
	for jobID := range m.funding[sourceID] {
		if j := m.lookupJob(jobID); j != nil {
			withdrawn += j.RemoveContribution(sourceID)
		}
	}
	delete(m.funding, sourceID)
	return withdrawn
}

func (m *Manager) lookupJob(jobID string) *jobs.Job {
	if m.jobs == nil {
		return nil
	}
	return m.jobs.Job(jobID)
}

func (m *Manager) Source(sourceID string) (Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[sourceID]
	return s, ok
}

func (m *Manager) Sources() []Source {
	m.mu.Lock()
	out := make([]Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].ID() < out[b].ID() })
	return out
}

// SourcesInWorld counts registered sources of worldID regardless of range.
func (m *Manager) SourcesInWorld(worldID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sources {
		if s.WorldID() == worldID {
			n++
		}
	}
	return n
}

func kindRank(k SourceKind) int {
	if k == KindStationary {
		return 0
	}
	return 1
}

func (m *Manager) sourcesForLocked(worldID string, pos tasks.Vec3i) []Source {
	var out []Source
	for _, s := range m.sources {
		if s.WorldID() != worldID || !s.InRange(pos) {
			continue
		}
		out = append(out, s)
	}
	// Stationary sources are drawn before portable ones.
	sort.Slice(out, func(a, b int) bool {
		ra, rb := kindRank(out[a].Kind()), kindRank(out[b].Kind())
		if ra != rb {
			return ra < rb
		}
		return out[a].ID() < out[b].ID()
	})
	return out
}

func (m *Manager) SourcesForJob(worldID string, pos tasks.Vec3i) []Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourcesForLocked(worldID, pos)
}

func share(s Source) int {
	n := s.AvailableUnits()
	if limit := s.MaxContribution(); limit < n {
		n = limit
	}
	if n < 0 {
		return 0
	}
	return n
}

// TotalCapacity sums min(available, max per job) over sources in range.
func (m *Manager) TotalCapacity(worldID string, pos tasks.Vec3i) int {
	total := 0
	for _, s := range m.SourcesForJob(worldID, pos) {
		total += share(s)
	}
	return total
}

// ContributeToJob pulls units from in-range sources until the job's target
// is met and returns how many were newly committed.
func (m *Manager) ContributeToJob(j *jobs.Job) int {
	if j == nil || j.Status().Terminal() {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	target := j.Target()
	current := j.ContributedUnits()
	added := 0
	for _, s := range m.sourcesForLocked(j.WorldID, j.Center) {
		if current >= target {
			break
		}
		amount := s.AvailableUnits()
		if room := s.MaxContribution() - j.Contribution(s.ID()); room < amount {
			amount = room
		}
		if need := target - current; need < amount {
			amount = need
		}
		if amount <= 0 {
			continue
		}
		j.AddContribution(s.ID(), amount)
		set := m.funding[s.ID()]
		if set == nil {
			set = map[string]struct{}{}
			m.funding[s.ID()] = set
		}
		set[j.ID] = struct{}{}
		current += amount
		added += amount
	}
	return added
}

// RemoveContribution withdraws one source's commitment from one job.
func (m *Manager) RemoveContribution(sourceID, jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.funding[sourceID]
	if _, ok := set[jobID]; !ok {
		return 0
	}
	delete(set, jobID)
	if len(set) == 0 {
		delete(m.funding, sourceID)
	}
	if j := m.lookupJob(jobID); j != nil {
		return j.RemoveContribution(sourceID)
	}
	return 0
}

// ContributedBy lists the live jobs sourceID funds, ordered by id.
func (m *Manager) ContributedBy(sourceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.funding[sourceID]))
	for id := range m.funding[sourceID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CommittedUnits is what sourceID has promised to non-terminal jobs.
func (m *Manager) CommittedUnits(sourceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for id := range m.funding[sourceID] {
		j := m.lookupJob(id)
		if j == nil || j.Status().Terminal() {
			continue
		}
		total += j.Contribution(sourceID)
	}
	return total
}

// Cleanup forgets funding records of jobs that are gone or finished.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for sid, set := range m.funding {
		for jobID := range set {
			j := m.lookupJob(jobID)
			if j != nil && !j.Status().Terminal() {
				continue
			}
			delete(set, jobID)
			dropped++
		}
		if len(set) == 0 {
			delete(m.funding, sid)
		}
	}
	return dropped
}
