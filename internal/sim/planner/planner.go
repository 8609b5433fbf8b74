package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"hivework.ai/internal/protocol"
	"hivework.ai/internal/sim/catalogs"
	"hivework.ai/internal/sim/tasks"
)

var (
	ErrInvalidRequest   = errors.New("invalid job request")
	ErrUnknownBlueprint = errors.New("unknown blueprint")
	ErrNothingToDo      = errors.New("nothing to do")
)

// MaxAreaVolume bounds CLEAR and MAINTAIN boxes.
const MaxAreaVolume = 64 * 64 * 64

// MaxCoord bounds every coordinate a request may name, on each axis.
const MaxCoord = 1 << 30

// unitsPerBlocks is how many tasks one unit is expected to cover when a
// request does not name its own requirement.
const unitsPerBlocks = 8

// BlockReader is the read side of the world the planner inspects.
type BlockReader interface {
	BlockAt(pos tasks.Vec3i) string
}

type Plan struct {
	Kind          string
	Center        tasks.Vec3i
	RequiredUnits int
	Tasks         []*tasks.Task
}

type Planner struct {
	cats *catalogs.Catalogs
}

func New(cats *catalogs.Catalogs) *Planner {
	if cats == nil {
		cats = catalogs.Default()
	}
	return &Planner{cats: cats}
}

// Plan expands req into tasks against the current state of w.
func (p *Planner) Plan(req protocol.StartJobReq, w BlockReader) (Plan, error) {
	if w == nil {
		return Plan{}, fmt.Errorf("%w: no world", ErrInvalidRequest)
	}
	if err := checkCoords(req); err != nil {
		return Plan{}, err
	}
	kind := strings.ToUpper(strings.TrimSpace(req.Kind))
	var (
		plan Plan
		err  error
	)
	switch kind {
	case protocol.JobBuild:
		plan, err = p.build(req, w)
	case protocol.JobClear:
		plan, err = p.clear(req, w)
	case protocol.JobMaintain:
		plan, err = p.maintain(req, w)
	case protocol.JobCustom:
		plan, err = p.custom(req)
	default:
		return Plan{}, fmt.Errorf("%w: kind %q", ErrInvalidRequest, req.Kind)
	}
	if err != nil {
		return Plan{}, err
	}
	if len(plan.Tasks) == 0 {
		return Plan{}, ErrNothingToDo
	}
	plan.Kind = kind
	if req.RequiredUnits > 0 {
		plan.RequiredUnits = req.RequiredUnits
	}
	if plan.RequiredUnits <= 0 {
		plan.RequiredUnits = defaultUnits(len(plan.Tasks))
	}
	return plan, nil
}

func defaultUnits(n int) int {
	u := (n + unitsPerBlocks - 1) / unitsPerBlocks
	if u < 1 {
		u = 1
	}
	return u
}

func checkCoords(req protocol.StartJobReq) error {
	named := [][3]int{req.Anchor, req.Min, req.Max}
	for _, ts := range req.Tasks {
		named = append(named, ts.Pos)
	}
	for _, a := range named {
		for _, c := range a {
			if c < -MaxCoord || c > MaxCoord {
				return fmt.Errorf("%w: coordinate %d outside [-%d, %d]", ErrInvalidRequest, c, MaxCoord, MaxCoord)
			}
		}
	}
	return nil
}

func vec(a [3]int) tasks.Vec3i { return tasks.Vec3i{X: a[0], Y: a[1], Z: a[2]} }

func (p *Planner) build(req protocol.StartJobReq, w BlockReader) (Plan, error) {
	id := strings.TrimSpace(req.BlueprintID)
	if id == "" {
		return Plan{}, fmt.Errorf("%w: missing blueprint_id", ErrInvalidRequest)
	}
	bp, ok := p.cats.Blueprints.ByID[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownBlueprint, id)
	}
	anchor := vec(req.Anchor)
	rot := NormalizeRotation(req.Rotation)

	type cell struct {
		pos   tasks.Vec3i
		block string
	}
	cells := make([]cell, 0, len(bp.Blocks))
	for _, b := range bp.Blocks {
		cells = append(cells, cell{pos: anchor.Add(rotateY(b.Pos, rot)), block: b.Block})
	}
	// Bottom layers first so upper blocks have support.
	sort.SliceStable(cells, func(a, b int) bool { return cells[a].pos.Y < cells[b].pos.Y })

	var out []*tasks.Task
	for _, c := range cells {
		cur := w.BlockAt(c.pos)
		if cur == c.block {
			continue
		}
		if cur != tasks.Air {
			if !p.breakable(cur) {
				return Plan{}, fmt.Errorf("%w: %s at %v is unbreakable", ErrInvalidRequest, cur, c.pos)
			}
			out = append(out, tasks.Remove(c.pos, req.Priority+1))
		}
		out = append(out, tasks.Place(c.pos, c.block, nil, req.Priority))
	}
	return Plan{Center: anchor, RequiredUnits: bp.RequiredUnits, Tasks: out}, nil
}

func (p *Planner) breakable(block string) bool {
	def, ok := p.cats.Blocks.Defs[block]
	return !ok || def.Breakable
}

type box struct{ min, max tasks.Vec3i }

func boxOf(a, b [3]int) (box, error) {
	lo, hi := vec(a), vec(b)
	if lo.X > hi.X {
		lo.X, hi.X = hi.X, lo.X
	}
	if lo.Y > hi.Y {
		lo.Y, hi.Y = hi.Y, lo.Y
	}
	if lo.Z > hi.Z {
		lo.Z, hi.Z = hi.Z, lo.Z
	}
	// hi >= lo on each axis, so the uint64 differences cannot wrap.
	vol := uint64(1)
	for _, ext := range []uint64{
		uint64(hi.X) - uint64(lo.X) + 1,
		uint64(hi.Y) - uint64(lo.Y) + 1,
		uint64(hi.Z) - uint64(lo.Z) + 1,
	} {
		if ext > MaxAreaVolume {
			return box{}, fmt.Errorf("%w: area extent %d exceeds %d", ErrInvalidRequest, ext, MaxAreaVolume)
		}
		vol *= ext
	}
	if vol > MaxAreaVolume {
		return box{}, fmt.Errorf("%w: area of %d blocks exceeds %d", ErrInvalidRequest, vol, MaxAreaVolume)
	}
	return box{min: lo, max: hi}, nil
}

func (b box) center() tasks.Vec3i {
	return tasks.Vec3i{
		X: b.min.X + (b.max.X-b.min.X)/2,
		Y: b.min.Y + (b.max.Y-b.min.Y)/2,
		Z: b.min.Z + (b.max.Z-b.min.Z)/2,
	}
}

// each visits the box top layer first.
func (b box) each(fn func(pos tasks.Vec3i)) {
	h, w, d := b.max.Y-b.min.Y, b.max.X-b.min.X, b.max.Z-b.min.Z
	for dy := 0; dy <= h; dy++ {
		for dx := 0; dx <= w; dx++ {
			for dz := 0; dz <= d; dz++ {
				fn(tasks.Vec3i{X: b.min.X + dx, Y: b.max.Y - dy, Z: b.min.Z + dz})
			}
		}
	}
}

func (p *Planner) clear(req protocol.StartJobReq, w BlockReader) (Plan, error) {
	b, err := boxOf(req.Min, req.Max)
	if err != nil {
		return Plan{}, err
	}
	var out []*tasks.Task
	b.each(func(pos tasks.Vec3i) {
		cur := w.BlockAt(pos)
		if cur == tasks.Air || !p.breakable(cur) {
			return
		}
		// Higher layers sort ahead of lower ones.
		out = append(out, tasks.Remove(pos, req.Priority+pos.Y-b.min.Y))
	})
	return Plan{Center: b.center(), Tasks: out}, nil
}

func (p *Planner) maintain(req protocol.StartJobReq, w BlockReader) (Plan, error) {
	b, err := boxOf(req.Min, req.Max)
	if err != nil {
		return Plan{}, err
	}
	var out []*tasks.Task
	b.each(func(pos tasks.Vec3i) {
		cur := w.BlockAt(pos)
		if cur == tasks.Air || p.cats.Blocks.Defs[cur].GrowsTo == "" {
			return
		}
		out = append(out, tasks.Fertilize(pos, req.Priority))
	})
	return Plan{Center: b.center(), Tasks: out}, nil
}

func (p *Planner) custom(req protocol.StartJobReq) (Plan, error) {
	if len(req.Tasks) == 0 {
		return Plan{}, fmt.Errorf("%w: no tasks", ErrInvalidRequest)
	}
	out := make([]*tasks.Task, 0, len(req.Tasks))
	lo, hi := req.Tasks[0].Pos, req.Tasks[0].Pos
	for i, ts := range req.Tasks {
		pos := vec(ts.Pos)
		prio := req.Priority + ts.Priority
		switch tasks.Kind(strings.ToUpper(ts.Kind)) {
		case tasks.KindPlace:
			if _, ok := p.cats.Blocks.Defs[ts.Block]; !ok || ts.Block == tasks.Air {
				return Plan{}, fmt.Errorf("%w: task %d: bad block %q", ErrInvalidRequest, i, ts.Block)
			}
			var items []tasks.ItemStack
			for _, it := range ts.Items {
				items = append(items, tasks.ItemStack{Item: it.Item, Count: it.Count})
			}
			out = append(out, tasks.Place(pos, ts.Block, items, prio))
		case tasks.KindRemove:
			out = append(out, tasks.Remove(pos, prio))
		case tasks.KindFertilize:
			out = append(out, tasks.Fertilize(pos, prio))
		case tasks.KindPickupItems:
			out = append(out, tasks.Pickup(pos, ts.Radius, prio))
		default:
			return Plan{}, fmt.Errorf("%w: task %d: kind %q", ErrInvalidRequest, i, ts.Kind)
		}
		for k := 0; k < 3; k++ {
			if ts.Pos[k] < lo[k] {
				lo[k] = ts.Pos[k]
			}
			if ts.Pos[k] > hi[k] {
				hi[k] = ts.Pos[k]
			}
		}
	}
	return Plan{Center: box{min: vec(lo), max: vec(hi)}.center(), Tasks: out}, nil
}
