// Package world provides the chunked tile grid, terrain, and the generation pipeline
// (chunk placement, biome blending, structure filling).
// Grids are indexed [row][col]; chunk membership is always computed, never stored.
package world

// TerrainType is the terrain classification of a tile or the recorded biome of a chunk.
type TerrainType uint8

const (
	TerrainGround   TerrainType = iota // Bare earth
	TerrainGrass                       // Only biome that grows trees
	TerrainMountain                    // Rocky highland
	TerrainThud                        // Packed badland
	TerrainWater                       // The single liquid type, immune to blending
)

var allTerrains = [...]TerrainType{
	TerrainGround,
	TerrainGrass,
	TerrainMountain,
	TerrainThud,
	TerrainWater,
}

var spawnableTerrains = [...]TerrainType{
	TerrainGround,
	TerrainGrass,
	TerrainMountain,
	TerrainThud,
}

// AllTerrains returns every terrain type in declaration order. The slice is a fresh copy.
func AllTerrains() []TerrainType {
	out := allTerrains
	return out[:]
}

// SpawnableTerrains returns the biomes a chunk may be seeded with through neighbour
// voting or the random-biome escape hatch: everything but the liquid type. The slice is
// a fresh copy.
func SpawnableTerrains() []TerrainType {
	out := spawnableTerrains
	return out[:]
}

// GrowthTerrain is the recorded chunk biome eligible for structures.
const GrowthTerrain = TerrainGrass

// IsLiquid reports whether t is the liquid terrain type.
func (t TerrainType) IsLiquid() bool {
	return t == TerrainWater
}

// IsSpawnable reports whether t can seed a chunk biome from neighbour influence.
func (t TerrainType) IsSpawnable() bool {
	return t < TerrainWater
}

func (t TerrainType) String() string {
	return TerrainName(t)
}

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t TerrainType) string {
	switch t {
	case TerrainGround:
		return "Ground"
	case TerrainGrass:
		return "Grass"
	case TerrainMountain:
		return "Mountain"
	case TerrainThud:
		return "Thud"
	case TerrainWater:
		return "Water"
	default:
		return "Unknown"
	}
}

// Structure is a point feature placed on top of a tile.
type Structure uint8

const (
	StructureNone Structure = iota
	StructureTree
)

func (s Structure) String() string {
	switch s {
	case StructureNone:
		return "None"
	case StructureTree:
		return "Tree"
	default:
		return "Unknown"
	}
}

// Position is a world-space (pixel) coordinate of a tile centre.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Tile is the atomic unit of the world grid.
type Tile struct {
	Terrain   TerrainType `json:"terrain"`
	Position  Position    `json:"position"`
	Structure Structure   `json:"structure"`
}

// ChunkCoord addresses a chunk in the chunk biome grid.
type ChunkCoord struct {
	X int `json:"cx"` // Column
	Y int `json:"cy"` // Row
}

// orthogonal and surrounding neighbour offsets in chunk space.
var (
	orthogonalOffsets = [4]ChunkCoord{
		{X: 0, Y: -1},
		{X: -1, Y: 0},
		{X: 1, Y: 0},
		{X: 0, Y: 1},
	}
	surroundingOffsets = [8]ChunkCoord{
		{X: -1, Y: -1}, {X: 0, Y: -1}, {X: 1, Y: -1},
		{X: -1, Y: 0}, {X: 1, Y: 0},
		{X: -1, Y: 1}, {X: 0, Y: 1}, {X: 1, Y: 1},
	}
)

// TilePosition returns the world-space centre of the tile at local (lx, ly) in chunk (cx, cy).
// The world is centred on the origin and offset by half a tile so centres align to the grid.
func TilePosition(cx, cy, lx, ly, chunkSize, worldSize int, tileSize float64) Position {
	half := float64(worldSize) / 2.0
	col := float64(cx*chunkSize + lx)
	row := float64(cy*chunkSize + ly)
	return Position{
		X: (col - half + 0.5) * tileSize,
		Y: (row - half + 0.5) * tileSize,
	}
}
