package world

import "math/rand"

// FillStructures scatters trees over chunks whose recorded biome is GrowthTerrain.
// Eligibility follows the chunk's recorded biome, not the tile's blended terrain, so a
// tree can stand on a tile that blended away from grass.
func FillStructures(w *World, rng *rand.Rand) {
	n := w.ChunksPerSide()
	cs := w.Config.ChunkSize

	for cy := 0; cy < n; cy++ {
		for cx := 0; cx < n; cx++ {
			if w.ChunkBiomes[cy][cx] != GrowthTerrain {
				continue
			}
			for ly := 0; ly < cs; ly++ {
				row := w.Tiles[cy*cs+ly]
				for lx := 0; lx < cs; lx++ {
					if rng.Float64() < w.Config.SpawnTreeChance {
						row[cx*cs+lx].Structure = StructureTree
					}
				}
			}
		}
	}
}
