package sources

import (
	"fmt"

	"hivework.ai/internal/sim/contrib"
	"hivework.ai/internal/sim/tasks"
	"hivework.ai/internal/sim/tuning"
)

// FromTuning builds the hive or pack described by spec. Packs without an
// owner inventory fall back to their own storage only.
func FromTuning(worldID string, spec tuning.SourceSpec, work tuning.Work) (contrib.Source, error) {
	cfg := Config{
		ID:              spec.ID,
		WorldID:         worldID,
		OwnerID:         spec.OwnerID,
		Pos:             tasks.Vec3i{X: spec.Pos[0], Y: spec.Pos[1], Z: spec.Pos[2]},
		Units:           spec.Units,
		MaxContribution: spec.MaxContribution,
		WorkRange:       spec.WorkRange,
		StorageCapacity: spec.StorageCapacity,
		Work: tasks.WorkContext{
			SpeedModifier:     spec.Speed,
			PickupEnabled:     spec.Pickup,
			SilkTouch:         spec.SilkTouch,
			InfiniteMaterials: spec.Infinite,
			BaseTicks:         work.BaseTicks(),
		},
	}
	switch contrib.SourceKind(spec.Kind) {
	case contrib.KindStationary:
		return NewHive(cfg), nil
	case contrib.KindPortable:
		return NewPack(cfg, nil), nil
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", spec.ID, spec.Kind)
	}
}
