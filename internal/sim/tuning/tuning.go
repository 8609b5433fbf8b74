package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"hivework.ai/internal/sim/tasks"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	Pool    Pool    `yaml:"pool"`
	Agent   Agent   `yaml:"agent"`
	Work    Work    `yaml:"work"`
	Session Session `yaml:"session"`

	Worlds []WorldSpec `yaml:"worlds"`
}

type Pool struct {
	CellSize int `yaml:"cell_size"`
}

type Agent struct {
	Speed           float64 `yaml:"speed"`
	FetchRadius     int     `yaml:"fetch_radius"`
	StuckTicks      int     `yaml:"stuck_ticks"`
	IdleReturnTicks int     `yaml:"idle_return_ticks"`
	MaxAttempts     int     `yaml:"max_attempts"`
}

type Work struct {
	PlaceTicks     int `yaml:"place_ticks"`
	RemoveTicks    int `yaml:"remove_ticks"`
	FertilizeTicks int `yaml:"fertilize_ticks"`
	PickupTicks    int `yaml:"pickup_ticks"`
}

type Session struct {
	ProgressEveryTicks int `yaml:"progress_every_ticks"`
	CleanupEveryTicks  int `yaml:"cleanup_every_ticks"`
	AgentWorkers       int `yaml:"agent_workers"`
}

type WorldSpec struct {
	ID      string       `yaml:"id"`
	Sources []SourceSpec `yaml:"sources"`
}

// SourceSpec seeds a hive or pack at startup.
type SourceSpec struct {
	ID              string  `yaml:"id"`
	Kind            string  `yaml:"kind"`
	OwnerID         string  `yaml:"owner_id"`
	Pos             [3]int  `yaml:"pos"`
	Units           int     `yaml:"units"`
	MaxContribution int     `yaml:"max_contribution"`
	WorkRange       int     `yaml:"work_range"`
	StorageCapacity int     `yaml:"storage_capacity"`
	Speed           float64 `yaml:"speed"`
	Pickup          bool    `yaml:"pickup"`
	SilkTouch       bool    `yaml:"silk_touch"`
	Infinite        bool    `yaml:"infinite_materials"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		Pool:            Pool{CellSize: 16},
		Agent: Agent{
			Speed:           1,
			FetchRadius:     2,
			StuckTicks:      60,
			IdleReturnTicks: 40,
			MaxAttempts:     3,
		},
		Work: Work{
			PlaceTicks:     10,
			RemoveTicks:    20,
			FertilizeTicks: 10,
			PickupTicks:    5,
		},
		Session: Session{
			ProgressEveryTicks: 20,
			CleanupEveryTicks:  20,
			AgentWorkers:       1,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults and canonicalizes ids.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.Pool.CellSize <= 0 {
		t.Pool.CellSize = d.Pool.CellSize
	}
	if t.Agent.Speed <= 0 {
		t.Agent.Speed = d.Agent.Speed
	}
	if t.Agent.FetchRadius <= 0 {
		t.Agent.FetchRadius = d.Agent.FetchRadius
	}
	if t.Agent.StuckTicks <= 0 {
		t.Agent.StuckTicks = d.Agent.StuckTicks
	}
	if t.Agent.IdleReturnTicks <= 0 {
		t.Agent.IdleReturnTicks = d.Agent.IdleReturnTicks
	}
	if t.Agent.MaxAttempts <= 0 {
		t.Agent.MaxAttempts = d.Agent.MaxAttempts
	}
	if t.Work.PlaceTicks <= 0 {
		t.Work.PlaceTicks = d.Work.PlaceTicks
	}
	if t.Work.RemoveTicks <= 0 {
		t.Work.RemoveTicks = d.Work.RemoveTicks
	}
	if t.Work.FertilizeTicks <= 0 {
		t.Work.FertilizeTicks = d.Work.FertilizeTicks
	}
	if t.Work.PickupTicks <= 0 {
		t.Work.PickupTicks = d.Work.PickupTicks
	}
	if t.Session.ProgressEveryTicks <= 0 {
		t.Session.ProgressEveryTicks = d.Session.ProgressEveryTicks
	}
	if t.Session.CleanupEveryTicks <= 0 {
		t.Session.CleanupEveryTicks = d.Session.CleanupEveryTicks
	}
	if t.Session.AgentWorkers <= 0 {
		t.Session.AgentWorkers = d.Session.AgentWorkers
	}
	for i := range t.Worlds {
		w := &t.Worlds[i]
		w.ID = strings.TrimSpace(w.ID)
		for k := range w.Sources {
			s := &w.Sources[k]
			s.ID = strings.TrimSpace(s.ID)
			s.Kind = strings.ToUpper(strings.TrimSpace(s.Kind))
			if s.Kind == "" {
				s.Kind = "STATIONARY"
			}
			if s.MaxContribution <= 0 {
				s.MaxContribution = s.Units
			}
			if s.Speed <= 0 {
				s.Speed = t.Agent.Speed
			}
		}
		sort.SliceStable(w.Sources, func(a, b int) bool { return w.Sources[a].ID < w.Sources[b].ID })
	}
}

func (t Tuning) Validate() error {
	worlds := map[string]bool{}
	sources := map[string]bool{}
	for _, w := range t.Worlds {
		if w.ID == "" {
			return fmt.Errorf("world id is required")
		}
		if worlds[w.ID] {
			return fmt.Errorf("duplicate world id: %s", w.ID)
		}
		worlds[w.ID] = true
		for _, s := range w.Sources {
			if s.ID == "" {
				return fmt.Errorf("world %s: source id is required", w.ID)
			}
			if sources[s.ID] {
				return fmt.Errorf("duplicate source id: %s", s.ID)
			}
			sources[s.ID] = true
			switch s.Kind {
			case "STATIONARY", "PORTABLE":
			default:
				return fmt.Errorf("source %s: unknown kind %q", s.ID, s.Kind)
			}
			if s.Units < 0 {
				return fmt.Errorf("source %s: units must be >= 0", s.ID)
			}
			if s.WorkRange <= 0 {
				return fmt.Errorf("source %s: work_range must be > 0", s.ID)
			}
		}
	}
	return nil
}

// BaseTicks maps work durations onto action kinds.
func (w Work) BaseTicks() map[tasks.Kind]int {
	return map[tasks.Kind]int{
		tasks.KindPlace:       w.PlaceTicks,
		tasks.KindRemove:      w.RemoveTicks,
		tasks.KindFertilize:   w.FertilizeTicks,
		tasks.KindPickupItems: w.PickupTicks,
	}
}
