package planner

import (
	"errors"
	"math"
	"testing"

	"hivework.ai/internal/protocol"
	"hivework.ai/internal/sim/catalogs"
	"hivework.ai/internal/sim/tasks"
	"hivework.ai/internal/sim/world"
)

func setup(t *testing.T) (*Planner, *world.Grid) {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	return New(cats), world.NewGrid("W", cats)
}

func TestNormalizeRotation_AcceptsDegreesAndQuarterTurns(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0}, {1, 1}, {3, 3}, {4, 0}, {-1, 3},
		{90, 1}, {180, 2}, {270, 3}, {360, 0}, {-90, 3},
	}
	for _, c := range cases {
		if got := NormalizeRotation(c.in); got != c.want {
			t.Fatalf("NormalizeRotation(%d)=%d want %d", c.in, got, c.want)
		}
	}
}

func TestRotateY(t *testing.T) {
	off := [3]int{2, 1, 0}
	want := []tasks.Vec3i{{X: 2, Y: 1}, {X: 0, Y: 1, Z: -2}, {X: -2, Y: 1}, {X: 0, Y: 1, Z: 2}}
	for rot, w := range want {
		if got := rotateY(off, rot); got != w {
			t.Fatalf("rot %d: got %+v want %+v", rot, got, w)
		}
	}
}

func TestBuild_ExpandsBlueprint(t *testing.T) {
	p, g := setup(t)
	anchor := tasks.Vec3i{X: 10, Y: 64, Z: -4}
	g.SetBlock(anchor, "PLANK")
	g.SetBlock(anchor.Add(tasks.Vec3i{X: 1}), "DIRT")

	plan, err := p.Plan(protocol.StartJobReq{Kind: "build", BlueprintID: "hut_small", Anchor: [3]int{10, 64, -4}}, g)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Kind != protocol.JobBuild || plan.Center != anchor || plan.RequiredUnits != 2 {
		t.Fatalf("plan header: %+v", plan)
	}
	// 8 blocks, one already correct, one occupied needs a removal first.
	if len(plan.Tasks) != 8 {
		t.Fatalf("tasks=%d want 8", len(plan.Tasks))
	}
	removes := 0
	for _, tk := range plan.Tasks {
		if tk.Action.Kind == tasks.KindRemove {
			removes++
			if tk.Priority != 1 {
				t.Fatalf("removal should outrank placement")
			}
		}
	}
	if removes != 1 {
		t.Fatalf("removes=%d want 1", removes)
	}
	if plan.Tasks[0].Pos.Y > plan.Tasks[len(plan.Tasks)-1].Pos.Y {
		t.Fatalf("placement should run bottom-up")
	}
}

func TestBuild_Rotation(t *testing.T) {
	p, g := setup(t)
	plan, err := p.Plan(protocol.StartJobReq{Kind: "BUILD", BlueprintID: "wall_stone", Rotation: 90}, g)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, tk := range plan.Tasks {
		if tk.Pos.X != 0 || tk.Pos.Z > 0 {
			t.Fatalf("rotated wall should run along -Z, got %+v", tk.Pos)
		}
	}
	// Default unit requirement is one per eight tasks, at least one.
	if plan.RequiredUnits != 1 {
		t.Fatalf("required=%d", plan.RequiredUnits)
	}
}

func TestBuild_Errors(t *testing.T) {
	p, g := setup(t)
	if _, err := p.Plan(protocol.StartJobReq{Kind: "BUILD", BlueprintID: "castle"}, g); !errors.Is(err, ErrUnknownBlueprint) {
		t.Fatalf("expected ErrUnknownBlueprint, got %v", err)
	}
	if _, err := p.Plan(protocol.StartJobReq{Kind: "BUILD"}, g); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := p.Plan(protocol.StartJobReq{Kind: "DIG"}, g); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for kind, got %v", err)
	}
	g.Fill(tasks.Vec3i{}, tasks.Vec3i{X: 3}, "COBBLESTONE")
	if _, err := p.Plan(protocol.StartJobReq{Kind: "BUILD", BlueprintID: "wall_stone"}, g); !errors.Is(err, ErrNothingToDo) {
		t.Fatalf("expected ErrNothingToDo, got %v", err)
	}
}

func TestClear_TopDownSkipsUnbreakable(t *testing.T) {
	p, g := setup(t)
	g.Fill(tasks.Vec3i{}, tasks.Vec3i{X: 1, Y: 2, Z: 1}, "DIRT")
	g.SetBlock(tasks.Vec3i{}, "BEDROCK")

	plan, err := p.Plan(protocol.StartJobReq{Kind: "CLEAR", Min: [3]int{1, 2, 1}, Max: [3]int{0, 0, 0}, RequiredUnits: 3}, g)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Tasks) != 11 || plan.RequiredUnits != 3 {
		t.Fatalf("tasks=%d required=%d", len(plan.Tasks), plan.RequiredUnits)
	}
	if plan.Tasks[0].Pos.Y != 2 || plan.Tasks[0].Priority <= plan.Tasks[len(plan.Tasks)-1].Priority {
		t.Fatalf("top layer should come first")
	}
	if _, err := p.Plan(protocol.StartJobReq{Kind: "CLEAR", Max: [3]int{100, 100, 100}}, g); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected volume rejection, got %v", err)
	}
}

func TestBoxOf_RejectsWrappingExtents(t *testing.T) {
	cases := []struct{ lo, hi [3]int }{
		{[3]int{-(1 << 62), 0, 0}, [3]int{1 << 62, 0, 0}},
		{[3]int{0, math.MinInt, 0}, [3]int{0, math.MaxInt, 0}},
		{[3]int{0, 0, 0}, [3]int{1 << 21, 1 << 21, 1 << 21}},
	}
	for _, c := range cases {
		if _, err := boxOf(c.lo, c.hi); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("boxOf(%v, %v) err=%v want ErrInvalidRequest", c.lo, c.hi, err)
		}
	}
}

func TestPlan_RejectsCoordinatesOutOfBounds(t *testing.T) {
	p, g := setup(t)
	reqs := []protocol.StartJobReq{
		{Kind: "CLEAR", Min: [3]int{-(1 << 62), 0, 0}, Max: [3]int{1 << 62, 0, 0}},
		{Kind: "MAINTAIN", Min: [3]int{0, math.MinInt, 0}, Max: [3]int{0, math.MinInt, 0}},
		{Kind: "BUILD", BlueprintID: "hut_small", Anchor: [3]int{math.MaxInt, 0, 0}},
		{Kind: "CUSTOM", Tasks: []protocol.TaskSpec{{Kind: "REMOVE", Pos: [3]int{0, 0, MaxCoord + 1}}}},
	}
	for _, req := range reqs {
		if _, err := p.Plan(req, g); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: err=%v want ErrInvalidRequest", req.Kind, err)
		}
	}

	g.SetBlock(tasks.Vec3i{X: MaxCoord, Y: -MaxCoord, Z: MaxCoord}, "DIRT")
	plan, err := p.Plan(protocol.StartJobReq{Kind: "CLEAR",
		Min: [3]int{MaxCoord - 1, -MaxCoord, MaxCoord}, Max: [3]int{MaxCoord, -MaxCoord, MaxCoord}}, g)
	if err != nil || len(plan.Tasks) != 1 {
		t.Fatalf("edge box: tasks=%d err=%v", len(plan.Tasks), err)
	}
}

func TestMaintain_FertilizesGrowables(t *testing.T) {
	p, g := setup(t)
	g.SetBlock(tasks.Vec3i{X: 1}, "SAPLING")
	g.SetBlock(tasks.Vec3i{X: 2}, "WHEAT_SEEDS")
	g.SetBlock(tasks.Vec3i{X: 3}, "DIRT")
	plan, err := p.Plan(protocol.StartJobReq{Kind: "MAINTAIN", Max: [3]int{4, 0, 0}}, g)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Tasks) != 2 || plan.Tasks[0].Action.Kind != tasks.KindFertilize {
		t.Fatalf("unexpected maintenance plan: %+v", plan.Tasks)
	}
}

func TestCustom(t *testing.T) {
	p, g := setup(t)
	req := protocol.StartJobReq{Kind: "CUSTOM", Tasks: []protocol.TaskSpec{
		{Kind: "PLACE", Pos: [3]int{0, 0, 0}, Block: "PLANK"},
		{Kind: "pickup_items", Pos: [3]int{4, 0, 4}, Radius: 2},
	}}
	plan, err := p.Plan(req, g)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Center != (tasks.Vec3i{X: 2, Z: 2}) {
		t.Fatalf("center=%+v", plan.Center)
	}
	if plan.Tasks[1].Action.Radius != 2 {
		t.Fatalf("pickup radius lost")
	}
	req.Tasks = append(req.Tasks, protocol.TaskSpec{Kind: "PLACE", Block: "UNOBTAINIUM"})
	if _, err := p.Plan(req, g); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
