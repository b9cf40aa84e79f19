package world

import "math/rand"

// Blend perturbs tile terrain near biome borders in place so chunk edges read as
// organic, noisy boundaries. The chunk biome grid is only read.
//
// A tile takes a candidate terrain when one of the 8 surrounding chunks recorded that
// biome and a tile of that terrain lies within BlendRange along either axis; the chance
// decays linearly with that distance. Liquid tiles never change, but liquid is itself a
// valid candidate.
func Blend(w *World, rng *rand.Rand) {
	blendPass(w, rng, false)
	if w.Config.BlendBothDirections {
		blendPass(w, rng, true)
	}
}

// blendPass visits every tile chunk by chunk. In reverse the row order is flipped so
// influence that propagated downward in the first pass also propagates upward.
func blendPass(w *World, rng *rand.Rand, reverse bool) {
	n := w.ChunksPerSide()
	cs := w.Config.ChunkSize
	candidates := make([]TerrainType, len(allTerrains))

	for i := 0; i < n; i++ {
		cy := i
		if reverse {
			cy = n - 1 - i
		}
		for cx := 0; cx < n; cx++ {
			for j := 0; j < cs; j++ {
				ly := j
				if reverse {
					ly = cs - 1 - j
				}
				for lx := 0; lx < cs; lx++ {
					blendTile(w, cx*cs+lx, cy*cs+ly, candidates, rng)
				}
			}
		}
	}
}

// blendTile tries each candidate terrain in shuffled order and stops at the first success.
// candidates is scratch space of len(allTerrains).
func blendTile(w *World, col, row int, candidates []TerrainType, rng *rand.Rand) bool {
	t := &w.Tiles[row][col]
	if t.Terrain.IsLiquid() {
		return false
	}

	copy(candidates, allTerrains[:])
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	chunk := w.ChunkOf(col, row)
	for _, c := range candidates {
		if c == t.Terrain {
			continue
		}
		if !nearChunkBiome(w, chunk, c) {
			continue
		}
		d, ok := tileDistance(w, col, row, c)
		if !ok {
			continue
		}
		if rng.Float64() < blendChance(w.Config.BaseBlendChance, d) {
			t.Terrain = c
			return true
		}
	}
	return false
}

// nearChunkBiome reports whether any of the 8 chunks around chunk recorded biome.
func nearChunkBiome(w *World, chunk ChunkCoord, biome TerrainType) bool {
	for _, off := range surroundingOffsets {
		if b, ok := w.ChunkBiome(chunk.X+off.X, chunk.Y+off.Y); ok && b == biome {
			return true
		}
	}
	return false
}

// tileDistance returns the smallest offset in [1, BlendRange] at which a tile of terrain
// is found along +x, -x, +y or -y from (col, row).
func tileDistance(w *World, col, row int, terrain TerrainType) (int, bool) {
	for d := 1; d <= w.Config.BlendRange; d++ {
		for _, p := range [4][2]int{{col + d, row}, {col - d, row}, {col, row + d}, {col, row - d}} {
			if t, ok := w.At(p[0], p[1]); ok && t.Terrain == terrain {
				return d, true
			}
		}
	}
	return 0, false
}

func blendChance(base float64, distance int) float64 {
	return max(0, base-float64(distance)/8)
}
