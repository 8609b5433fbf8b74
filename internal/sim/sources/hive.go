package sources

import (
	"sync"

	"hivework.ai/internal/sim/contrib"
	"hivework.ai/internal/sim/tasks"
)

type Config struct {
	ID              string
	WorldID         string
	OwnerID         string
	Pos             tasks.Vec3i
	Units           int
	MaxContribution int
	WorkRange       int
	StorageCapacity int
	Work            tasks.WorkContext
}

// units tracks how many of a source's units are home versus out working.
type units struct {
	mu    sync.Mutex
	total int
	out   int
}

func (u *units) available() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := u.total - u.out
	if n < 0 {
		return 0
	}
	return n
}

func (u *units) take() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.total-u.out <= 0 {
		return false
	}
	u.out++
	return true
}

func (u *units) give() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.out > 0 {
		u.out--
	}
}

func (u *units) add(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.total += n
	if u.total < 0 {
		u.total = 0
	}
}

// Hive is a stationary source placed in the world.
type Hive struct {
	cfg     Config
	units   units
	storage *Storage
}

var _ contrib.Source = (*Hive)(nil)

func NewHive(cfg Config) *Hive {
	h := &Hive{cfg: cfg, storage: NewStorage(cfg.StorageCapacity)}
	h.units.total = cfg.Units
	return h
}

func (h *Hive) ID() string                     { return h.cfg.ID }
func (h *Hive) WorldID() string                { return h.cfg.WorldID }
func (h *Hive) Pos() tasks.Vec3i               { return h.cfg.Pos }
func (h *Hive) Kind() contrib.SourceKind       { return contrib.KindStationary }
func (h *Hive) OwnerID() string                { return h.cfg.OwnerID }
func (h *Hive) AvailableUnits() int            { return h.units.available() }
func (h *Hive) MaxContribution() int           { return h.cfg.MaxContribution }
func (h *Hive) WorkRange() int                 { return h.cfg.WorkRange }
func (h *Hive) WorkContext() tasks.WorkContext { return h.cfg.Work }
func (h *Hive) TakeUnit() bool                 { return h.units.take() }
func (h *Hive) ReturnUnit()                    { h.units.give() }
func (h *Hive) AddUnits(n int)                 { h.units.add(n) }
func (h *Hive) Storage() *Storage              { return h.storage }

func (h *Hive) InRange(pos tasks.Vec3i) bool {
	return contrib.WithinRange(h.cfg.Pos, h.cfg.WorkRange, pos)
}

func (h *Hive) Materials() tasks.MaterialSource {
	if h.cfg.Work.InfiniteMaterials {
		return Infinite{}
	}
	return h.storage
}
