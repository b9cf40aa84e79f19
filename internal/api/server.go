// Package api provides the HTTP API for observing and driving the world session.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/JohnReedV/Shoyu/internal/persistence"
	"github.com/JohnReedV/Shoyu/internal/session"
	"github.com/JohnReedV/Shoyu/internal/snapshot"
	"github.com/JohnReedV/Shoyu/internal/world"
)

const (
	maxStreamConns = 4
	maxRegion      = 256 // max tiles per side returned by /api/v1/world
)

// Server serves the world session over HTTP.
type Server struct {
	Holder      *session.Holder
	DB          *persistence.DB // optional; /runs is unavailable without it
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	SnapshotDir string // Empty = snapshot export disabled.

	// Active stream connection count (atomic).
	streamConns int32

	upgrader     websocket.Upgrader
	startLimiter *RateLimiter
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.startLimiter == nil {
		// Generation of a full-size world is the expensive call.
		s.startLimiter = NewRateLimiter(30, time.Hour)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // read-only stream
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/world", s.handleWorld)
	mux.HandleFunc("/api/v1/chunks", s.handleChunks)
	mux.HandleFunc("/api/v1/tile/", s.handleTile)
	mux.HandleFunc("/api/v1/chunk/", s.handleChunk)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)

	// Lifecycle event stream (websocket).
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/start", s.adminOnly(RateLimitMiddleware(s.startLimiter, s.handleStart)))
	mux.HandleFunc("/api/v1/teardown", s.adminOnly(s.handleTeardown))
	mux.HandleFunc("/api/v1/pause", s.adminOnly(s.handlePause))
	mux.HandleFunc("/api/v1/chunk-lines", s.adminOnly(s.handleChunkLines))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "snapshots", s.SnapshotDir != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// Close releases background resources held by the handler. Call after the HTTP server
// has shut down.
func (s *Server) Close() {
	if s.startLimiter != nil {
		s.startLimiter.Stop()
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// Other methods are rejected.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no SHOYU_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// sessionError maps session and config errors onto HTTP status codes.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, world.ErrInvalidConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("session operation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// liveSession returns the current session or writes a 404.
func (s *Server) liveSession(w http.ResponseWriter) (session.Session, bool) {
	sess, ok := s.Holder.Current()
	if !ok {
		http.Error(w, "no active session", http.StatusNotFound)
	}
	return sess, ok
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":        "Shoyu",
		"state":       s.Holder.State().String(),
		"subscribers": s.Holder.Subscribers(),
	}
	if sess, ok := s.Holder.Current(); ok {
		cfg := sess.World.Config
		status["session_id"] = sess.ID.String()
		status["seed"] = sess.World.Seed
		status["world_size"] = cfg.WorldSize
		status["chunk_size"] = cfg.ChunkSize
		status["tile_size"] = cfg.TileSize
		status["chunk_lines"] = sess.ChunkLines
		status["started_at"] = sess.StartedAt.UTC().Format(time.RFC3339)
		status["uptime"] = time.Since(sess.StartedAt).Round(time.Second).String()
	}
	writeJSON(w, status)
}

// handleWorld returns a rectangular region of the tile grid, row-major.
// Query: col, row (origin, default 0), w, h (extent, default up to 256).
func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSession(w)
	if !ok {
		return
	}
	wd := sess.World
	size := wd.Size()

	q := r.URL.Query()
	col0, err1 := queryInt(q.Get("col"), 0)
	row0, err2 := queryInt(q.Get("row"), 0)
	width, err3 := queryInt(q.Get("w"), min(size, maxRegion))
	height, err4 := queryInt(q.Get("h"), min(size, maxRegion))
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		http.Error(w, "invalid region: "+err.Error(), http.StatusBadRequest)
		return
	}
	if width <= 0 || height <= 0 || width > maxRegion || height > maxRegion {
		http.Error(w, fmt.Sprintf("region extent must be 1-%d", maxRegion), http.StatusBadRequest)
		return
	}
	if !wd.InBounds(col0, row0) {
		http.Error(w, "region origin out of bounds", http.StatusBadRequest)
		return
	}
	width = min(width, size-col0)
	height = min(height, size-row0)
	withShade := q.Get("shade") == "1"

	terrain := make([][]int, height)
	structures := make([][]int, height)
	var shade [][]float64
	if withShade {
		shade = make([][]float64, height)
	}
	for dy := 0; dy < height; dy++ {
		row := wd.Tiles[row0+dy][col0 : col0+width]
		terrain[dy] = make([]int, width)
		structures[dy] = make([]int, width)
		if withShade {
			shade[dy] = make([]float64, width)
		}
		for dx, t := range row {
			terrain[dy][dx] = int(t.Terrain)
			structures[dy][dx] = int(t.Structure)
			if withShade {
				shade[dy][dx] = wd.Shade(col0+dx, row0+dy)
			}
		}
	}

	resp := map[string]any{
		"session_id": sess.ID.String(),
		"seed":       wd.Seed,
		"world_size": size,
		"chunk_size": wd.Config.ChunkSize,
		"tile_size":  wd.Config.TileSize,
		"col":        col0,
		"row":        row0,
		"width":      width,
		"height":     height,
		"origin":     wd.Tiles[row0][col0].Position,
		"terrains":   terrainLegend(),
		"terrain":    terrain,
		"structures": structures,
	}
	if withShade {
		resp["shade"] = shade
	}
	writeJSON(w, resp)
}

// handleChunks returns the recorded biome of every chunk plus the overlay flag.
func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSession(w)
	if !ok {
		return
	}
	biomes := make([][]int, len(sess.World.ChunkBiomes))
	for cy, row := range sess.World.ChunkBiomes {
		biomes[cy] = make([]int, len(row))
		for cx, b := range row {
			biomes[cy][cx] = int(b)
		}
	}

	counts := make(map[string]int)
	for t, n := range world.BiomeCounts(sess.World) {
		counts[world.TerrainName(t)] = n
	}

	writeJSON(w, map[string]any{
		"chunks_per_side": sess.World.ChunksPerSide(),
		"chunk_size":      sess.World.Config.ChunkSize,
		"chunk_lines":     sess.ChunkLines,
		"terrains":        terrainLegend(),
		"biomes":          biomes,
		"counts":          counts,
	})
}

// handleTile returns a single tile: GET /api/v1/tile/:x/:y.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	col, row, ok := pathCoords(w, r.URL.Path, "/api/v1/tile/", "usage: /api/v1/tile/:x/:y")
	if !ok {
		return
	}
	sess, ok := s.liveSession(w)
	if !ok {
		return
	}
	t, ok := sess.World.At(col, row)
	if !ok {
		http.Error(w, "tile not found", http.StatusNotFound)
		return
	}
	chunk := sess.World.ChunkOf(col, row)
	biome, _ := sess.World.ChunkBiome(chunk.X, chunk.Y)

	writeJSON(w, map[string]any{
		"x":           col,
		"y":           row,
		"terrain":     t.Terrain.String(),
		"structure":   t.Structure.String(),
		"position":    t.Position,
		"chunk":       chunk,
		"chunk_biome": biome.String(),
		"shade":       sess.World.Shade(col, row),
	})
}

// handleChunk returns one chunk's biome, bounds and tile make-up: GET /api/v1/chunk/:cx/:cy.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	cx, cy, ok := pathCoords(w, r.URL.Path, "/api/v1/chunk/", "usage: /api/v1/chunk/:cx/:cy")
	if !ok {
		return
	}
	sess, ok := s.liveSession(w)
	if !ok {
		return
	}
	biome, ok := sess.World.ChunkBiome(cx, cy)
	if !ok {
		http.Error(w, "chunk not found", http.StatusNotFound)
		return
	}
	bounds, _ := sess.World.ChunkBounds(cx, cy)

	cs := sess.World.Config.ChunkSize
	terrain := make(map[string]int)
	trees := 0
	for row := cy * cs; row < (cy+1)*cs; row++ {
		for col := cx * cs; col < (cx+1)*cs; col++ {
			t := sess.World.Tiles[row][col]
			terrain[t.Terrain.String()]++
			if t.Structure == world.StructureTree {
				trees++
			}
		}
	}

	writeJSON(w, map[string]any{
		"cx":      cx,
		"cy":      cy,
		"biome":   biome.String(),
		"bounds":  bounds,
		"terrain": terrain,
		"trees":   trees,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit, err := queryInt(r.URL.Query().Get("limit"), 20)
	if err != nil || limit < 1 || limit > 500 {
		http.Error(w, "limit must be 1-500", http.StatusBadRequest)
		return
	}
	runs, err := s.DB.RecentRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	out := make([]runView, len(runs))
	for i, run := range runs {
		out[i].Run = run
		counts, err := run.TerrainCounts()
		if err != nil {
			slog.Warn("run has unreadable terrain counts", "id", run.ID, "error", err)
			continue
		}
		out[i].Terrain = counts
	}
	writeJSON(w, out)
}

// runView is a runs table row plus its decoded terrain make-up.
type runView struct {
	persistence.Run
	Terrain map[string]int `json:"terrain,omitempty"`
}

// handleStart generates a new world. Optional JSON body: {"seed": n} for a fresh world
// with a fixed seed, or {"run_id": "..."} to regenerate a recorded run with its config.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seed  int64  `json:"seed"`
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	cfg := s.Holder.Config()
	switch {
	case req.RunID != "" && req.Seed != 0:
		http.Error(w, "seed and run_id are mutually exclusive", http.StatusBadRequest)
		return
	case req.RunID != "":
		var ok bool
		if cfg, ok = s.runConfig(w, r, req.RunID); !ok {
			return
		}
	case req.Seed != 0:
		cfg.Seed = req.Seed
	}

	sess, err := s.Holder.StartWith(r.Context(), cfg)
	if err != nil {
		sessionError(w, err)
		return
	}

	resp := map[string]any{
		"session_id": sess.ID.String(),
		"seed":       sess.World.Seed,
		"state":      sess.State.String(),
		"tiles":      sess.World.TileCount(),
	}
	if req.RunID != "" {
		resp["replay_of"] = req.RunID
	}
	writeJSON(w, resp)
}

// runConfig loads the generation config of a recorded run, or writes the error response.
func (s *Server) runConfig(w http.ResponseWriter, r *http.Request, id string) (world.GenConfig, bool) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return world.GenConfig{}, false
	}
	run, err := s.DB.GetRun(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return world.GenConfig{}, false
	}
	if err != nil {
		slog.Error("load run failed", "id", id, "error", err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return world.GenConfig{}, false
	}
	cfg, err := run.Config()
	if err != nil {
		slog.Error("recorded run config unreadable", "id", id, "error", err)
		http.Error(w, "recorded config unreadable", http.StatusInternalServerError)
		return world.GenConfig{}, false
	}
	return cfg, true
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	if err := s.Holder.Teardown(r.Context()); err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, map[string]string{"state": s.Holder.State().String()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	state, err := s.Holder.Pause()
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, map[string]string{"state": state.String()})
}

func (s *Server) handleChunkLines(w http.ResponseWriter, r *http.Request) {
	on, err := s.Holder.ToggleChunkLines()
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"chunk_lines": on})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.SnapshotDir == "" {
		http.Error(w, "snapshots disabled (no SHOYU_SNAPSHOT_DIR set)", http.StatusServiceUnavailable)
		return
	}
	sess, ok := s.Holder.Current()
	if !ok {
		sessionError(w, session.ErrNoSession)
		return
	}

	now := time.Now()
	path := snapshot.Filename(s.SnapshotDir, sess.ID.String(), now)
	size, err := snapshot.WriteSnapshot(path, snapshot.FromWorld(sess.ID.String(), sess.World, now))
	if err != nil {
		slog.Error("snapshot failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"path":    path,
		"bytes":   size,
		"size":    humanize.Bytes(uint64(size)),
		"message": "snapshot saved",
	})
}

// handleStream upgrades to a websocket and forwards session lifecycle events.
// The first message describes the current state.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.streamConns, 1)
	if current > maxStreamConns {
		atomic.AddInt32(&s.streamConns, -1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.streamConns, -1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.Holder.Subscribe(16)
	defer cancel()

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(s.stateEvent()); err != nil {
		return
	}
	slog.Info("stream client connected", "remote", r.RemoteAddr)

	// Clients never send anything meaningful; the read loop only detects close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			slog.Info("stream client disconnected", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) stateEvent() session.Event {
	ev := session.Event{
		Kind:  session.EventState,
		State: s.Holder.State().String(),
		At:    time.Now(),
	}
	if sess, ok := s.Holder.Current(); ok {
		ev.SessionID = sess.ID.String()
		ev.Seed = sess.World.Seed
		ev.ChunkLines = sess.ChunkLines
		ev.State = sess.State.String()
	}
	return ev
}

// pathCoords parses the two integer path segments after prefix.
func pathCoords(w http.ResponseWriter, path, prefix, usage string) (int, int, bool) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, prefix), "/"), "/")
	if len(parts) != 2 {
		http.Error(w, usage, http.StatusBadRequest)
		return 0, 0, false
	}
	a, err1 := strconv.Atoi(parts[0])
	b, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return 0, 0, false
	}
	return a, b, true
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func terrainLegend() []string {
	names := make([]string, len(world.AllTerrains()))
	for i, t := range world.AllTerrains() {
		names[i] = t.String()
	}
	return names
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
