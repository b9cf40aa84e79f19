package world

import (
	"fmt"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// World holds one generated tile grid and its chunk biome grid.
type World struct {
	Config      GenConfig       `json:"config"`
	Seed        int64           `json:"seed"`
	Tiles       [][]Tile        `json:"-"` // [row][col], WorldSize × WorldSize
	ChunkBiomes [][]TerrainType `json:"-"` // [chunk row][chunk col], recorded seed biomes

	shade opensimplex.Noise
}

// Rect is an axis-aligned world-space rectangle.
type Rect struct {
	Min Position `json:"min"`
	Max Position `json:"max"`
}

// NewWorld allocates a blank grid pair for cfg. Every tile starts as Ground with no
// structure and its final position; every chunk starts as Ground.
func NewWorld(cfg GenConfig, seed int64) *World {
	return newWorld(cfg, seed, seed)
}

func newWorld(cfg GenConfig, seed, shadeSeed int64) *World {
	n := cfg.ChunksPerSide()
	w := &World{
		Config:      cfg,
		Seed:        seed,
		Tiles:       make([][]Tile, cfg.WorldSize),
		ChunkBiomes: make([][]TerrainType, n),
		shade:       opensimplex.NewNormalized(shadeSeed),
	}
	for cy := range w.ChunkBiomes {
		w.ChunkBiomes[cy] = make([]TerrainType, n)
	}
	for row := range w.Tiles {
		w.Tiles[row] = make([]Tile, cfg.WorldSize)
		for col := range w.Tiles[row] {
			cx, cy := col/cfg.ChunkSize, row/cfg.ChunkSize
			lx, ly := col%cfg.ChunkSize, row%cfg.ChunkSize
			w.Tiles[row][col].Position = TilePosition(cx, cy, lx, ly, cfg.ChunkSize, cfg.WorldSize, cfg.TileSize)
		}
	}
	return w
}

// Size returns the number of tiles per side.
func (w *World) Size() int {
	return len(w.Tiles)
}

// ChunksPerSide returns the number of chunks per side.
func (w *World) ChunksPerSide() int {
	return len(w.ChunkBiomes)
}

// InBounds returns true if (col, row) addresses a tile.
func (w *World) InBounds(col, row int) bool {
	return row >= 0 && row < len(w.Tiles) && col >= 0 && col < len(w.Tiles[row])
}

// At returns the tile at (col, row), or false if out of bounds.
func (w *World) At(col, row int) (Tile, bool) {
	if !w.InBounds(col, row) {
		return Tile{}, false
	}
	return w.Tiles[row][col], true
}

// ChunkOf returns the chunk containing tile (col, row).
func (w *World) ChunkOf(col, row int) ChunkCoord {
	return ChunkCoord{X: col / w.Config.ChunkSize, Y: row / w.Config.ChunkSize}
}

// ChunkBiome returns the recorded biome of chunk (cx, cy), or false if out of bounds.
func (w *World) ChunkBiome(cx, cy int) (TerrainType, bool) {
	if cy < 0 || cy >= len(w.ChunkBiomes) || cx < 0 || cx >= len(w.ChunkBiomes[cy]) {
		return 0, false
	}
	return w.ChunkBiomes[cy][cx], true
}

// ChunkBounds returns the world-space edges of chunk (cx, cy), used for chunk line overlays.
func (w *World) ChunkBounds(cx, cy int) (Rect, bool) {
	if _, ok := w.ChunkBiome(cx, cy); !ok {
		return Rect{}, false
	}
	cs := w.Config.ChunkSize
	half := float64(w.Config.WorldSize) / 2.0
	ts := w.Config.TileSize
	return Rect{
		Min: Position{X: (float64(cx*cs) - half) * ts, Y: (float64(cy*cs) - half) * ts},
		Max: Position{X: (float64((cx+1)*cs) - half) * ts, Y: (float64((cy+1)*cs) - half) * ts},
	}, true
}

// Shade returns a smooth per-tile brightness in [0, 1] derived from the world seed.
// Renderers use it to vary tiles of the same terrain type.
func (w *World) Shade(col, row int) float64 {
	if w.shade == nil {
		return 1.0
	}
	return octaveNoise(w.shade, float64(col), float64(row), 3, 0.08, 0.5)
}

// TileCount returns the total number of tiles in the grid.
func (w *World) TileCount() int {
	return w.Size() * w.Size()
}

// String returns a summary of the world.
func (w *World) String() string {
	return fmt.Sprintf("World(seed=%d, tiles=%dx%d, chunks=%dx%d)",
		w.Seed, w.Size(), w.Size(), w.ChunksPerSide(), w.ChunksPerSide())
}

// TerrainCounts returns a summary of terrain type distribution over tiles.
func TerrainCounts(w *World) map[TerrainType]int {
	counts := make(map[TerrainType]int)
	for _, row := range w.Tiles {
		for _, t := range row {
			counts[t.Terrain]++
		}
	}
	return counts
}

// BiomeCounts returns how many chunks recorded each biome.
func BiomeCounts(w *World) map[TerrainType]int {
	counts := make(map[TerrainType]int)
	for _, row := range w.ChunkBiomes {
		for _, b := range row {
			counts[b]++
		}
	}
	return counts
}

// StructureCount returns the number of tiles carrying s.
func StructureCount(w *World, s Structure) int {
	n := 0
	for _, row := range w.Tiles {
		for _, t := range row {
			if t.Structure == s {
				n++
			}
		}
	}
	return n
}
