package tasks

// Air is the block name of an empty cell.
const Air = "AIR"

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// World is the block mutation surface actions operate on.
type World interface {
	BlockAt(pos Vec3i) string
	SetBlock(pos Vec3i, block string)
	// DestroyBlock clears pos and returns the natural drops when dropItems is set.
	DestroyBlock(pos Vec3i, dropItems bool) []ItemStack
	Fertilize(pos Vec3i) bool
	CollectItems(pos Vec3i, radius int) []ItemStack
	DropItems(pos Vec3i, stacks []ItemStack)
}

// MaterialSource is an item store agents fetch from and deposit into.
type MaterialSource interface {
	// Extract removes up to n of item and returns how many were taken.
	Extract(item string, n int) int
	// Insert stores the stack and returns what did not fit.
	Insert(stack ItemStack) ItemStack
}

// Carrier receives items produced by an action.
type Carrier interface {
	Carry(stacks ...ItemStack)
}

// WorkContext carries the capabilities of the agent doing the work.
type WorkContext struct {
	SpeedModifier     float64
	PickupEnabled     bool
	SilkTouch         bool
	InfiniteMaterials bool

	// BaseTicks overrides the default per-kind work durations.
	BaseTicks map[Kind]int
}

var DefaultBaseTicks = map[Kind]int{
	KindPlace:       10,
	KindRemove:      20,
	KindFertilize:   10,
	KindPickupItems: 5,
}

const (
	defaultWorkRange    = 2
	defaultPickupRadius = 3
)

// Action is a closed set of work behaviors selected by Kind.
type Action struct {
	Kind Kind `json:"kind"`

	// PLACE
	Block string      `json:"block,omitempty"`
	Items []ItemStack `json:"items,omitempty"`

	// PICKUP_ITEMS
	Radius int `json:"radius,omitempty"`
}

func PlaceAction(block string, items []ItemStack) Action {
	if len(items) == 0 && block != "" {
		items = []ItemStack{{Item: block, Count: 1}}
	}
	return Action{Kind: KindPlace, Block: block, Items: items}
}

func RemoveAction() Action    { return Action{Kind: KindRemove} }
func FertilizeAction() Action { return Action{Kind: KindFertilize} }

func PickupAction(radius int) Action {
	if radius <= 0 {
		radius = defaultPickupRadius
	}
	return Action{Kind: KindPickupItems, Radius: radius}
}

func (a Action) RequiredItems() []ItemStack {
	if a.Kind != KindPlace {
		return nil
	}
	out := make([]ItemStack, 0, len(a.Items))
	for _, it := range a.Items {
		if it.Item == "" || it.Count <= 0 {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (a Action) WorkDuration(ctx WorkContext) int {
	base, ok := ctx.BaseTicks[a.Kind]
	if !ok || base <= 0 {
		base = DefaultBaseTicks[a.Kind]
	}
	speed := ctx.SpeedModifier
	if speed <= 0 {
		speed = 1
	}
	n := int(float64(base) / speed)
	if n < 1 {
		n = 1
	}
	return n
}

// WorkRange is how close an agent must be to the target to start working.
func (a Action) WorkRange() int { return defaultWorkRange }

// OnStart runs once when an agent begins working on pos.
func (a Action) OnStart(w World, pos Vec3i) {}

func (a Action) Execute(w World, pos Vec3i, c Carrier, ctx WorkContext) bool {
	if w == nil {
		return false
	}
	switch a.Kind {
	case KindPlace:
		cur := w.BlockAt(pos)
		if cur == a.Block {
			return true
		}
		if cur != Air || a.Block == "" {
			return false
		}
		w.SetBlock(pos, a.Block)
		return true

	case KindRemove:
		cur := w.BlockAt(pos)
		if cur == Air {
			return true
		}
		if !ctx.PickupEnabled {
			w.DestroyBlock(pos, false)
			return w.BlockAt(pos) == Air
		}
		var got []ItemStack
		if ctx.SilkTouch {
			w.DestroyBlock(pos, false)
			got = []ItemStack{{Item: cur, Count: 1}}
		} else {
			got = w.DestroyBlock(pos, true)
		}
		// Unbreakable blocks survive DestroyBlock.
		if w.BlockAt(pos) != Air {
			return false
		}
		if c != nil && len(got) > 0 {
			c.Carry(got...)
		}
		return true

	case KindFertilize:
		return w.Fertilize(pos)

	case KindPickupItems:
		got := w.CollectItems(pos, a.Radius)
		if c != nil && len(got) > 0 {
			c.Carry(got...)
		}
		return true
	}
	return false
}

func (a Action) ShouldReturnAfter(ctx WorkContext) bool {
	switch a.Kind {
	case KindRemove:
		return ctx.PickupEnabled
	case KindPickupItems:
		return true
	}
	return false
}
