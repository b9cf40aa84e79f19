// Command shoyu serves the procedural world: it owns the session holder, records
// runs to SQLite and exposes the HTTP API the renderer and worldctl talk to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/JohnReedV/Shoyu/internal/api"
	"github.com/JohnReedV/Shoyu/internal/entropy"
	"github.com/JohnReedV/Shoyu/internal/persistence"
	"github.com/JohnReedV/Shoyu/internal/session"
	"github.com/JohnReedV/Shoyu/internal/world"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Shoyu world server")

	dbPath := envOrDefault("SHOYU_DB", "data/shoyu.db")
	apiPort := envIntOrDefault("SHOYU_PORT", 8080)
	snapshotDir := os.Getenv("SHOYU_SNAPSHOT_DIR")

	// ── Generation config ─────────────────────────────────────────────
	cfg := world.DefaultGenConfig()
	if path := os.Getenv("SHOYU_CONFIG"); path != "" {
		loaded, err := world.LoadGenConfig(path)
		if err != nil {
			slog.Error("failed to load world config", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("world config loaded", "path", path)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid world config", "error", err)
		os.Exit(1)
	}
	slog.Info("world config",
		"world_size", cfg.WorldSize,
		"chunk_size", cfg.ChunkSize,
		"tile_size", cfg.TileSize,
		"seed", cfg.Seed,
		"blend_range", cfg.BlendRange,
	)

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(dbPath), 0755)
	db, err := persistence.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)
	if last, err := db.GetMeta("last_seed"); err == nil {
		slog.Info("previous run", "seed", last)
	}

	// ── Entropy ──────────────────────────────────────────────────────
	ent := entropy.NewClient(os.Getenv("RANDOM_ORG_KEY"))
	if ent.Enabled() {
		slog.Info("random.org seeding enabled")
	} else {
		slog.Info("RANDOM_ORG_KEY not set, seeding from crypto/rand")
	}

	holder := session.NewHolder(cfg, ent, db)

	// ── HTTP API ──────────────────────────────────────────────────────
	adminKey := os.Getenv("SHOYU_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("SHOYU_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}

	apiServer := &api.Server{
		Holder:      holder,
		DB:          db,
		Port:        apiPort,
		AdminKey:    adminKey,
		SnapshotDir: snapshotDir,
	}
	httpServer := apiServer.Start()

	if autostart, _ := strconv.ParseBool(os.Getenv("SHOYU_AUTOSTART")); autostart {
		sess, err := holder.Start(context.Background())
		if err != nil {
			slog.Error("autostart failed", "error", err)
			os.Exit(1)
		}
		printTerrain(sess.World)
	}

	fmt.Printf("API: http://localhost:%d/api/v1/status\n", apiPort)
	fmt.Println("Waiting for start signal... (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if holder.State() != session.StateMenu {
		if err := holder.Teardown(ctx); err != nil {
			slog.Error("teardown failed", "error", err)
		}
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	apiServer.Close()

	fmt.Println("Shoyu stopped.")
}

func printTerrain(w *world.World) {
	counts := world.TerrainCounts(w)
	for _, t := range world.AllTerrains() {
		slog.Info("terrain", "type", world.TerrainName(t), "count", counts[t])
	}
	slog.Info("structures", "trees", world.StructureCount(w, world.StructureTree))
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
