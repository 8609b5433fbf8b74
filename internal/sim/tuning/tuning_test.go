package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"hivework.ai/internal/sim/tasks"
)

func TestLoad_RepoTuning(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Pool.CellSize != 16 || tu.Agent.StuckTicks != 60 || tu.Session.ProgressEveryTicks != 20 {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	if len(tu.Worlds) != 1 || len(tu.Worlds[0].Sources) != 2 {
		t.Fatalf("worlds: %+v", tu.Worlds)
	}
	pack := tu.Worlds[0].Sources[1]
	if pack.ID != "pack-1" || pack.MaxContribution != 4 {
		t.Fatalf("max_contribution should default to units: %+v", pack)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickRateHz != 20 {
		t.Fatalf("tick rate: %d", tu.TickRateHz)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  stuck_ticks: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Agent.StuckTicks != 5 {
		t.Fatalf("stuck_ticks: %d", tu.Agent.StuckTicks)
	}
	if tu.Agent.IdleReturnTicks != 40 || tu.Work.RemoveTicks != 20 {
		t.Fatalf("defaults lost: %+v", tu)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"dup source": `
worlds:
  - id: W
    sources:
      - {id: a, work_range: 4}
      - {id: a, work_range: 4}
`,
		"bad kind": `
worlds:
  - id: W
    sources:
      - {id: a, kind: flying, work_range: 4}
`,
		"no range": `
worlds:
  - id: W
    sources:
      - {id: a}
`,
		"dup world": `
worlds:
  - id: W
  - id: W
`,
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "tuning.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestWork_BaseTicks(t *testing.T) {
	bt := Defaults().Work.BaseTicks()
	if bt[tasks.KindRemove] != 20 || bt[tasks.KindPickupItems] != 5 {
		t.Fatalf("base ticks: %+v", bt)
	}
}
