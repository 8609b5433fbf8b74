package world

import (
	"sort"
	"sync"

	"hivework.ai/internal/sim/catalogs"
	"hivework.ai/internal/sim/tasks"
)

// Grid is a sparse in-memory voxel world. Cells not stored are AIR.
// It is safe for concurrent use so agent passes may run in parallel.
type Grid struct {
	id   string
	defs map[string]catalogs.BlockDef

	mu     sync.RWMutex
	blocks map[tasks.Vec3i]string
	ground map[tasks.Vec3i][]tasks.ItemStack
	edits  uint64
}

var _ tasks.World = (*Grid)(nil)

func NewGrid(id string, cats *catalogs.Catalogs) *Grid {
	if cats == nil {
		cats = catalogs.Default()
	}
	return &Grid{
		id:     id,
		defs:   cats.Blocks.Defs,
		blocks: map[tasks.Vec3i]string{},
		ground: map[tasks.Vec3i][]tasks.ItemStack{},
	}
}

func (g *Grid) ID() string { return g.id }

func (g *Grid) BlockAt(pos tasks.Vec3i) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if b, ok := g.blocks[pos]; ok {
		return b
	}
	return tasks.Air
}

func (g *Grid) SetBlock(pos tasks.Vec3i, block string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setLocked(pos, block)
}

func (g *Grid) setLocked(pos tasks.Vec3i, block string) {
	if block == "" || block == tasks.Air {
		delete(g.blocks, pos)
	} else {
		g.blocks[pos] = block
	}
	g.edits++
}

// Fill sets every cell of the inclusive box [min,max].
func (g *Grid) Fill(min, max tasks.Vec3i, block string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for x := min.X; x <= max.X; x++ {
		for y := min.Y; y <= max.Y; y++ {
			for z := min.Z; z <= max.Z; z++ {
				g.setLocked(tasks.Vec3i{X: x, Y: y, Z: z}, block)
			}
		}
	}
}

func (g *Grid) Solid(pos tasks.Vec3i) bool {
	b := g.BlockAt(pos)
	if b == tasks.Air {
		return false
	}
	def, ok := g.defs[b]
	return !ok || def.Solid
}

func (g *Grid) DestroyBlock(pos tasks.Vec3i, dropItems bool) []tasks.ItemStack {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.blocks[pos]
	if !ok {
		return nil
	}
	def, known := g.defs[b]
	if known && !def.Breakable {
		return nil
	}
	g.setLocked(pos, tasks.Air)
	if !dropItems {
		return nil
	}
	item, n := b, 1
	if known && def.DropsItem != "" {
		item = def.DropsItem
		if def.DropCount > 0 {
			n = def.DropCount
		}
	}
	if item == "NONE" {
		return nil
	}
	return []tasks.ItemStack{{Item: item, Count: n}}
}

func (g *Grid) Fertilize(pos tasks.Vec3i) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.blocks[pos]
	if !ok {
		return false
	}
	if !g.Fertilizable(b) {
		return false
	}
	g.setLocked(pos, g.defs[b].GrowsTo)
	return true
}

func (g *Grid) DropItems(pos tasks.Vec3i, stacks []tasks.ItemStack) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range stacks {
		if s.Item == "" || s.Count <= 0 {
			continue
		}
		g.ground[pos] = append(g.ground[pos], s)
	}
}

// CollectItems removes and returns ground items within radius of pos, merged
// by item name.
func (g *Grid) CollectItems(pos tasks.Vec3i, radius int) []tasks.ItemStack {
	g.mu.Lock()
	defer g.mu.Unlock()
	merged := map[string]int{}
	r2 := radius * radius
	for p, stacks := range g.ground {
		if p.DistSq(pos) > r2 {
			continue
		}
		for _, s := range stacks {
			merged[s.Item] += s.Count
		}
		delete(g.ground, p)
	}
	out := make([]tasks.ItemStack, 0, len(merged))
	for item, n := range merged {
		out = append(out, tasks.ItemStack{Item: item, Count: n})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Item < out[b].Item })
	return out
}

// GroundItems counts loose items of one kind anywhere in the world.
func (g *Grid) GroundItems(item string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, stacks := range g.ground {
		for _, s := range stacks {
			if s.Item == item {
				n += s.Count
			}
		}
	}
	return n
}

// BlocksIn maps the non-air cells of the inclusive box [min,max] to their
// blocks.
func (g *Grid) BlocksIn(min, max tasks.Vec3i) map[tasks.Vec3i]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := map[tasks.Vec3i]string{}
	for p, b := range g.blocks {
		if p.X < min.X || p.X > max.X || p.Y < min.Y || p.Y > max.Y || p.Z < min.Z || p.Z > max.Z {
			continue
		}
		out[p] = b
	}
	return out
}

func (g *Grid) Edits() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edits
}

// Fertilizable reads only the immutable catalog and takes no lock.
func (g *Grid) Fertilizable(block string) bool {
	return g.defs[block].GrowsTo != ""
}
