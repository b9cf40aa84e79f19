// World generation in three passes over one exclusively owned grid:
// chunk placement, biome blending, structure filling.
// Biomes are chosen per chunk first so regions stay spatially coherent; the blend pass
// then removes the hard chunk-aligned seams.
package world

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Generate creates a complete world from cfg. A zero seed draws a random one.
func Generate(cfg GenConfig) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return generate(cfg, seed, seed, rand.New(rand.NewSource(seed)))
}

// GenerateWithRand creates a complete world drawing every random decision from rng.
// cfg.Seed is recorded on the world. The shade field is keyed on cfg.Seed when it is
// set and on the first value drawn from rng otherwise.
func GenerateWithRand(cfg GenConfig, rng *rand.Rand) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("generate: nil random source")
	}
	shadeSeed := cfg.Seed
	if shadeSeed == 0 {
		shadeSeed = rng.Int63()
	}
	return generate(cfg, cfg.Seed, shadeSeed, rng)
}

func generate(cfg GenConfig, seed, shadeSeed int64, rng *rand.Rand) (*World, error) {
	start := time.Now()

	w := newWorld(cfg, seed, shadeSeed)
	PlaceChunks(w, rng)
	Blend(w, rng)
	FillStructures(w, rng)

	slog.Debug("world generated",
		"seed", seed,
		"tiles", w.TileCount(),
		"chunks", w.ChunksPerSide()*w.ChunksPerSide(),
		"trees", StructureCount(w, StructureTree),
		"elapsed", time.Since(start),
	)
	return w, nil
}

// PlaceChunks assigns every chunk a biome, row-major, and stamps it onto all tiles
// of that chunk. Structures are reset to None.
func PlaceChunks(w *World, rng *rand.Rand) {
	n := w.ChunksPerSide()
	cs := w.Config.ChunkSize

	assigned := make([][]bool, n)
	for cy := range assigned {
		assigned[cy] = make([]bool, n)
	}

	for cy := 0; cy < n; cy++ {
		for cx := 0; cx < n; cx++ {
			biome := pickBiome(w, assigned, cx, cy, rng)
			w.ChunkBiomes[cy][cx] = biome
			assigned[cy][cx] = true

			for ly := 0; ly < cs; ly++ {
				row := w.Tiles[cy*cs+ly]
				for lx := 0; lx < cs; lx++ {
					t := &row[cx*cs+lx]
					t.Terrain = biome
					t.Structure = StructureNone
				}
			}
		}
	}
}

// pickBiome draws the biome for chunk (cx, cy). Already-assigned orthogonal neighbours
// holding a spawnable biome each add 1..PotentialBiomesMulti votes to a shuffled pool.
func pickBiome(w *World, assigned [][]bool, cx, cy int, rng *rand.Rand) TerrainType {
	var pool []TerrainType
	for _, off := range orthogonalOffsets {
		nx, ny := cx+off.X, cy+off.Y
		b, ok := w.ChunkBiome(nx, ny)
		if !ok || !assigned[ny][nx] || !b.IsSpawnable() {
			continue
		}
		votes := int(rng.Float64()*float64(w.Config.PotentialBiomesMulti)) + 1
		for range votes {
			pool = append(pool, b)
		}
	}
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	switch {
	case rng.Float64() < w.Config.WaterChance:
		return TerrainWater
	case rng.Float64() < w.Config.RandomBiomeChance:
		return randomSpawnable(rng)
	case len(pool) > 0:
		return pool[rng.Intn(len(pool))]
	default:
		return randomSpawnable(rng)
	}
}

func randomSpawnable(rng *rand.Rand) TerrainType {
	return spawnableTerrains[rng.Intn(len(spawnableTerrains))]
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
