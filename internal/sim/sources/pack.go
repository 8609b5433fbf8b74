package sources

import (
	"sync"

	"hivework.ai/internal/sim/contrib"
	"hivework.ai/internal/sim/tasks"
)

// Pack is a portable source worn by its owner. Its position is pushed by the
// host whenever the owner moves.
type Pack struct {
	cfg     Config
	units   units
	storage *Storage
	owner   tasks.MaterialSource

	mu  sync.RWMutex
	pos tasks.Vec3i
}

var _ contrib.Source = (*Pack)(nil)

// NewPack builds a pack. ownerInventory, if set, is drawn from after the
// pack's own storage.
func NewPack(cfg Config, ownerInventory tasks.MaterialSource) *Pack {
	p := &Pack{cfg: cfg, storage: NewStorage(cfg.StorageCapacity), owner: ownerInventory, pos: cfg.Pos}
	p.units.total = cfg.Units
	return p
}

func (p *Pack) ID() string                     { return p.cfg.ID }
func (p *Pack) WorldID() string                { return p.cfg.WorldID }
func (p *Pack) Kind() contrib.SourceKind       { return contrib.KindPortable }
func (p *Pack) OwnerID() string                { return p.cfg.OwnerID }
func (p *Pack) AvailableUnits() int            { return p.units.available() }
func (p *Pack) MaxContribution() int           { return p.cfg.MaxContribution }
func (p *Pack) WorkRange() int                 { return p.cfg.WorkRange }
func (p *Pack) WorkContext() tasks.WorkContext { return p.cfg.Work }
func (p *Pack) TakeUnit() bool                 { return p.units.take() }
func (p *Pack) ReturnUnit()                    { p.units.give() }
func (p *Pack) Storage() *Storage              { return p.storage }

func (p *Pack) Pos() tasks.Vec3i {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pos
}

func (p *Pack) Follow(pos tasks.Vec3i) {
	p.mu.Lock()
	p.pos = pos
	p.mu.Unlock()
}

func (p *Pack) InRange(pos tasks.Vec3i) bool {
	return contrib.WithinRange(p.Pos(), p.cfg.WorkRange, pos)
}

func (p *Pack) Materials() tasks.MaterialSource {
	if p.cfg.Work.InfiniteMaterials {
		return Infinite{}
	}
	if p.owner == nil {
		return p.storage
	}
	return Chain{p.storage, p.owner}
}
