package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Catalogs struct {
	Blocks     BlockCatalog
	Blueprints BlueprintCatalog
}

type BlockCatalog struct {
	Palette []string
	Defs    map[string]BlockDef
	Digest  string
}

type BlockDef struct {
	ID        string `json:"id"`
	Solid     bool   `json:"solid"`
	Breakable bool   `json:"breakable"`
	DropsItem string `json:"drops_item,omitempty"`
	DropCount int    `json:"drop_count,omitempty"`
	// GrowsTo is the block a fertilized block turns into; empty means the
	// block cannot be fertilized.
	GrowsTo string `json:"grows_to,omitempty"`
}

type BlueprintCatalog struct {
	ByID   map[string]BlueprintDef
	Digest string
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type BlueprintDef struct {
	ID      string      `json:"id"`
	Author  string      `json:"author"`
	Version string      `json:"version"`
	Blocks  []BPBlock   `json:"blocks"`
	Cost    []ItemCount `json:"cost"`
	// RequiredUnits overrides the planner's default unit requirement.
	RequiredUnits int `json:"required_units,omitempty"`
}

type BPBlock struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	if err := loadBlueprints(filepath.Join(configDir, "blueprints"), &c.Blueprints); err != nil {
		return nil, err
	}
	for id, bp := range c.Blueprints.ByID {
		for _, b := range bp.Blocks {
			if _, ok := c.Blocks.Defs[b.Block]; !ok {
				return nil, fmt.Errorf("blueprint %s: unknown block %q", id, b.Block)
			}
		}
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Default is the minimal block set used when no config directory exists.
func Default() *Catalogs {
	defs := []BlockDef{
		{ID: "AIR"},
		{ID: "DIRT", Solid: true, Breakable: true},
		{ID: "STONE", Solid: true, Breakable: true, DropsItem: "COBBLESTONE", DropCount: 1},
		{ID: "PLANK", Solid: true, Breakable: true},
		{ID: "SAPLING", Breakable: true, GrowsTo: "LOG"},
		{ID: "LOG", Solid: true, Breakable: true},
	}
	c := &Catalogs{Blueprints: BlueprintCatalog{ByID: map[string]BlueprintDef{}, Digest: sha256Hex(nil)}}
	raw, _ := json.Marshal(defs)
	_ = indexBlocks(raw, defs, &c.Blocks)
	return c
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	if err := indexBlocks(raw, defs, out); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	return nil
}

func indexBlocks(raw []byte, defs []BlockDef, out *BlockCatalog) error {
	out.Digest = sha256Hex(raw)
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("empty id")
		}
		out.Defs[d.ID] = d
	}
	if _, ok := out.Defs["AIR"]; !ok {
		return fmt.Errorf("missing AIR")
	}
	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		if id != "AIR" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out.Palette = append([]string{"AIR"}, ids...)
	return nil
}

func loadBlueprints(dir string, out *BlueprintCatalog) error {
	out.ByID = map[string]BlueprintDef{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		var bp BlueprintDef
		if err := json.Unmarshal(b, &bp); err != nil {
			return fmt.Errorf("blueprint %s: %w", filepath.Base(p), err)
		}
		if bp.ID == "" {
			return fmt.Errorf("blueprint %s: missing id", filepath.Base(p))
		}
		out.ByID[bp.ID] = bp
	}
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}
