package world

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a GenConfig cannot describe a world.
var ErrInvalidConfig = errors.New("invalid world config")

// GenConfig holds world generation parameters.
type GenConfig struct {
	WorldSize int     `yaml:"world_size" json:"world_size"` // Tiles per side; multiple of ChunkSize
	ChunkSize int     `yaml:"chunk_size" json:"chunk_size"` // Tiles per chunk side
	TileSize  float64 `yaml:"tile_size" json:"tile_size"`   // World-space units per tile
	Seed      int64   `yaml:"seed" json:"seed"`             // Random seed (0 = random)

	// Per-chunk probability of forcing the liquid biome.
	WaterChance float64 `yaml:"water_chance" json:"water_chance"`
	// Per-chunk probability of ignoring neighbour influence and picking any spawnable biome.
	RandomBiomeChance float64 `yaml:"random_biome_chance" json:"random_biome_chance"`
	// Each qualifying neighbour contributes 1..PotentialBiomesMulti votes for its biome.
	PotentialBiomesMulti int `yaml:"potential_biomes_multi" json:"potential_biomes_multi"`
	// Per-tile probability of a tree in a chunk whose recorded biome is GrowthTerrain.
	SpawnTreeChance float64 `yaml:"spawn_tree_chance" json:"spawn_tree_chance"`

	// Blend search radius in tiles; candidates further than this never blend.
	BlendRange int `yaml:"blend_range" json:"blend_range"`
	// Blend chance at distance d is BaseBlendChance - d/8.
	BaseBlendChance float64 `yaml:"base_blend_chance" json:"base_blend_chance"`
	// Repeat the blend pass with rows traversed in reverse order.
	BlendBothDirections bool `yaml:"blend_both_directions" json:"blend_both_directions"`
}

// DefaultGenConfig returns the configuration used by the game.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		WorldSize:            1000,
		ChunkSize:            8,
		TileSize:             64.0,
		Seed:                 0,
		WaterChance:          0.08,
		RandomBiomeChance:    0.15,
		PotentialBiomesMulti: 3,
		SpawnTreeChance:      0.1,
		BlendRange:           5,
		BaseBlendChance:      0.7,
		BlendBothDirections:  true,
	}
}

// SmallTestConfig returns a tiny world for rapid iteration.
func SmallTestConfig() GenConfig {
	cfg := DefaultGenConfig()
	cfg.WorldSize = 16
	cfg.ChunkSize = 4
	cfg.TileSize = 1.0
	cfg.Seed = 42
	return cfg
}

// ChunksPerSide returns the side length of the chunk biome grid.
func (c GenConfig) ChunksPerSide() int {
	if c.ChunkSize <= 0 {
		return 0
	}
	return c.WorldSize / c.ChunkSize
}

// Validate rejects configurations that cannot be generated.
func (c GenConfig) Validate() error {
	switch {
	case c.WorldSize <= 0:
		return fmt.Errorf("%w: world_size must be positive, got %d", ErrInvalidConfig, c.WorldSize)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	case c.WorldSize%c.ChunkSize != 0:
		return fmt.Errorf("%w: chunk_size %d does not divide world_size %d", ErrInvalidConfig, c.ChunkSize, c.WorldSize)
	case c.TileSize <= 0:
		return fmt.Errorf("%w: tile_size must be positive, got %g", ErrInvalidConfig, c.TileSize)
	case c.PotentialBiomesMulti < 1:
		return fmt.Errorf("%w: potential_biomes_multi must be at least 1, got %d", ErrInvalidConfig, c.PotentialBiomesMulti)
	case c.BlendRange < 0:
		return fmt.Errorf("%w: blend_range must not be negative, got %d", ErrInvalidConfig, c.BlendRange)
	}

	probs := []struct {
		name string
		v    float64
	}{
		{"water_chance", c.WaterChance},
		{"random_biome_chance", c.RandomBiomeChance},
		{"spawn_tree_chance", c.SpawnTreeChance},
		{"base_blend_chance", c.BaseBlendChance},
	}
	for _, p := range probs {
		if p.v < 0 || p.v > 1 {
			return fmt.Errorf("%w: %s must be within [0, 1], got %g", ErrInvalidConfig, p.name, p.v)
		}
	}
	return nil
}

// LoadGenConfig reads a YAML overlay on top of DefaultGenConfig.
// Keys missing from the file keep their default values.
func LoadGenConfig(path string) (GenConfig, error) {
	cfg := DefaultGenConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
