package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JohnReedV/Shoyu/internal/persistence"
	"github.com/JohnReedV/Shoyu/internal/session"
	"github.com/JohnReedV/Shoyu/internal/snapshot"
	"github.com/JohnReedV/Shoyu/internal/world"
)

const testKey = "secret"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s := &Server{
		Holder:      session.NewHolder(world.SmallTestConfig(), nil, db),
		DB:          db,
		AdminKey:    testKey,
		SnapshotDir: t.TempDir(),
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return s, srv
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func post(t *testing.T, url, key, body string, out any) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusInMenu(t *testing.T) {
	_, srv := newTestServer(t)
	var status map[string]any
	if code := get(t, srv.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status["state"] != "Menu" {
		t.Errorf("state = %v, want Menu", status["state"])
	}
	if _, ok := status["session_id"]; ok {
		t.Error("no session_id expected in Menu")
	}
}

func TestReadsWithoutSession(t *testing.T) {
	_, srv := newTestServer(t)
	for _, path := range []string{"/api/v1/world", "/api/v1/chunks", "/api/v1/tile/0/0", "/api/v1/chunk/0/0"} {
		if code := get(t, srv.URL+path, nil); code != http.StatusNotFound {
			t.Errorf("%s: code = %d, want 404", path, code)
		}
	}
}

func TestAdminAuth(t *testing.T) {
	s, srv := newTestServer(t)

	if code := post(t, srv.URL+"/api/v1/start", "", "", nil); code != http.StatusUnauthorized {
		t.Errorf("no token: code = %d, want 401", code)
	}
	if code := post(t, srv.URL+"/api/v1/start", "wrong", "", nil); code != http.StatusUnauthorized {
		t.Errorf("wrong token: code = %d, want 401", code)
	}
	if code := get(t, srv.URL+"/api/v1/start", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET start: code = %d, want 405", code)
	}

	s.AdminKey = ""
	if code := post(t, srv.URL+"/api/v1/start", "", "", nil); code != http.StatusForbidden {
		t.Errorf("disabled admin: code = %d, want 403", code)
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	_, srv := newTestServer(t)

	var started map[string]any
	if code := post(t, srv.URL+"/api/v1/start", testKey, "", &started); code != http.StatusOK {
		t.Fatalf("start code = %d", code)
	}
	if started["seed"].(float64) != 42 || started["tiles"].(float64) != 256 {
		t.Errorf("start = %v", started)
	}

	if code := post(t, srv.URL+"/api/v1/start", testKey, "", nil); code != http.StatusConflict {
		t.Errorf("second start code = %d, want 409", code)
	}

	var paused map[string]string
	post(t, srv.URL+"/api/v1/pause", testKey, "", &paused)
	if paused["state"] != "Paused" {
		t.Errorf("pause state = %q, want Paused", paused["state"])
	}

	var lines map[string]bool
	post(t, srv.URL+"/api/v1/chunk-lines", testKey, "", &lines)
	if !lines["chunk_lines"] {
		t.Error("chunk lines should be on after toggle")
	}

	var status map[string]any
	get(t, srv.URL+"/api/v1/status", &status)
	if status["state"] != "Paused" || status["chunk_lines"] != true {
		t.Errorf("status = %v", status)
	}

	var torn map[string]string
	if code := post(t, srv.URL+"/api/v1/teardown", testKey, "", &torn); code != http.StatusOK {
		t.Fatalf("teardown code = %d", code)
	}
	if torn["state"] != "Menu" {
		t.Errorf("teardown state = %q, want Menu", torn["state"])
	}
	if code := post(t, srv.URL+"/api/v1/teardown", testKey, "", nil); code != http.StatusConflict {
		t.Errorf("second teardown code = %d, want 409", code)
	}

	var runs []persistence.Run
	if code := get(t, srv.URL+"/api/v1/runs", &runs); code != http.StatusOK {
		t.Fatalf("runs code = %d", code)
	}
	if len(runs) != 1 || runs[0].Seed != 42 || runs[0].EndedAt == nil {
		t.Errorf("runs = %+v", runs)
	}
}

func TestStartWithSeed(t *testing.T) {
	_, srv := newTestServer(t)
	var started map[string]any
	if code := post(t, srv.URL+"/api/v1/start", testKey, `{"seed": 777}`, &started); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if started["seed"].(float64) != 777 {
		t.Errorf("seed = %v, want 777", started["seed"])
	}
	if code := post(t, srv.URL+"/api/v1/teardown", testKey, "", nil); code != http.StatusOK {
		t.Fatal("teardown failed")
	}
	if code := post(t, srv.URL+"/api/v1/start", testKey, `{bad`, nil); code != http.StatusBadRequest {
		t.Errorf("bad json code = %d, want 400", code)
	}
}

func TestStartFromRecordedRun(t *testing.T) {
	s, srv := newTestServer(t)
	ctx := context.Background()

	cfg := world.SmallTestConfig()
	cfg.WorldSize = 24
	cfg.Seed = 9
	orig, err := world.Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DB.RecordRun(ctx, persistence.NewRun("old-run", orig, time.Unix(1_700_000_000, 0))); err != nil {
		t.Fatal(err)
	}

	if code := post(t, srv.URL+"/api/v1/start", testKey, `{"run_id": "old-run", "seed": 5}`, nil); code != http.StatusBadRequest {
		t.Errorf("seed with run_id code = %d, want 400", code)
	}
	if code := post(t, srv.URL+"/api/v1/start", testKey, `{"run_id": "missing"}`, nil); code != http.StatusNotFound {
		t.Errorf("unknown run code = %d, want 404", code)
	}

	var started map[string]any
	if code := post(t, srv.URL+"/api/v1/start", testKey, `{"run_id": "old-run"}`, &started); code != http.StatusOK {
		t.Fatalf("replay code = %d", code)
	}
	if started["seed"].(float64) != 9 || started["tiles"].(float64) != 576 || started["replay_of"] != "old-run" {
		t.Errorf("replay start = %v, want seed 9 on a 24x24 world", started)
	}

	sess, ok := s.Holder.Current()
	if !ok {
		t.Fatal("replay should leave a live session")
	}
	for row := range orig.Tiles {
		for col, want := range orig.Tiles[row] {
			got := sess.World.Tiles[row][col]
			if got.Terrain != want.Terrain || got.Structure != want.Structure {
				t.Fatalf("tile (%d,%d) = %s/%s, want %s/%s", col, row, got.Terrain, got.Structure, want.Terrain, want.Structure)
			}
		}
	}

	var runs []map[string]any
	if code := get(t, srv.URL+"/api/v1/runs?limit=5", &runs); code != http.StatusOK {
		t.Fatalf("runs code = %d", code)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want the recorded run and its replay", len(runs))
	}
	for _, run := range runs {
		terrain, ok := run["terrain"].(map[string]any)
		if !ok || len(terrain) == 0 {
			t.Errorf("run %v has no terrain counts", run["id"])
			continue
		}
		total := 0.0
		for _, n := range terrain {
			total += n.(float64)
		}
		if total != 576 {
			t.Errorf("run %v terrain counts sum to %v, want 576", run["id"], total)
		}
	}
}

func TestWorldRegion(t *testing.T) {
	s, srv := newTestServer(t)
	if _, err := s.Holder.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.Holder.Current()

	var full struct {
		WorldSize  int            `json:"world_size"`
		Width      int            `json:"width"`
		Height     int            `json:"height"`
		Origin     world.Position `json:"origin"`
		Terrains   []string       `json:"terrains"`
		Terrain    [][]int        `json:"terrain"`
		Structures [][]int        `json:"structures"`
	}
	if code := get(t, srv.URL+"/api/v1/world", &full); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if full.WorldSize != 16 || full.Width != 16 || full.Height != 16 || len(full.Terrain) != 16 {
		t.Fatalf("region = %dx%d of %d", full.Width, full.Height, full.WorldSize)
	}
	if full.Origin != (world.Position{X: -7.5, Y: -7.5}) {
		t.Errorf("origin = %+v, want (-7.5,-7.5)", full.Origin)
	}
	if len(full.Terrains) != len(world.AllTerrains()) {
		t.Errorf("legend has %d names", len(full.Terrains))
	}
	for row := range full.Terrain {
		for col, v := range full.Terrain[row] {
			if world.TerrainType(v) != sess.World.Tiles[row][col].Terrain {
				t.Fatalf("terrain (%d,%d) mismatch", col, row)
			}
		}
	}

	var part struct {
		Width  int         `json:"width"`
		Height int         `json:"height"`
		Shade  [][]float64 `json:"shade"`
	}
	get(t, srv.URL+"/api/v1/world?col=12&row=14&w=8&h=8&shade=1", &part)
	if part.Width != 4 || part.Height != 2 {
		t.Errorf("clipped region = %dx%d, want 4x2", part.Width, part.Height)
	}
	if len(part.Shade) != 2 || len(part.Shade[0]) != 4 {
		t.Errorf("shade grid = %d rows", len(part.Shade))
	}

	bad := []string{"?col=16", "?w=0", "?w=257", "?row=x"}
	for _, q := range bad {
		if code := get(t, srv.URL+"/api/v1/world"+q, nil); code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400", q, code)
		}
	}
}

func TestTileAndChunkDetail(t *testing.T) {
	s, srv := newTestServer(t)
	if _, err := s.Holder.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.Holder.Current()

	var tile struct {
		Terrain    string           `json:"terrain"`
		Position   world.Position   `json:"position"`
		Chunk      world.ChunkCoord `json:"chunk"`
		ChunkBiome string           `json:"chunk_biome"`
	}
	if code := get(t, srv.URL+"/api/v1/tile/5/9", &tile); code != http.StatusOK {
		t.Fatalf("tile code = %d", code)
	}
	if tile.Terrain != sess.World.Tiles[9][5].Terrain.String() {
		t.Errorf("terrain = %s", tile.Terrain)
	}
	if tile.Chunk != (world.ChunkCoord{X: 1, Y: 2}) {
		t.Errorf("chunk = %+v, want (1,2)", tile.Chunk)
	}
	if tile.Position != (world.Position{X: -2.5, Y: 1.5}) {
		t.Errorf("position = %+v, want (-2.5,1.5)", tile.Position)
	}

	var chunk struct {
		Biome   string         `json:"biome"`
		Bounds  world.Rect     `json:"bounds"`
		Terrain map[string]int `json:"terrain"`
	}
	if code := get(t, srv.URL+"/api/v1/chunk/1/2", &chunk); code != http.StatusOK {
		t.Fatalf("chunk code = %d", code)
	}
	if chunk.Biome != sess.World.ChunkBiomes[2][1].String() {
		t.Errorf("biome = %s", chunk.Biome)
	}
	if chunk.Bounds.Min != (world.Position{X: -4, Y: 0}) || chunk.Bounds.Max != (world.Position{X: 0, Y: 4}) {
		t.Errorf("bounds = %+v", chunk.Bounds)
	}
	total := 0
	for _, n := range chunk.Terrain {
		total += n
	}
	if total != 16 {
		t.Errorf("chunk tile total = %d, want 16", total)
	}

	for path, want := range map[string]int{
		"/api/v1/tile/16/0":  http.StatusNotFound,
		"/api/v1/tile/-1/0":  http.StatusNotFound,
		"/api/v1/tile/a/b":   http.StatusBadRequest,
		"/api/v1/tile/1":     http.StatusBadRequest,
		"/api/v1/chunk/4/0":  http.StatusNotFound,
		"/api/v1/chunk/0/0/": http.StatusOK,
	} {
		if code := get(t, srv.URL+path, nil); code != want {
			t.Errorf("%s: code = %d, want %d", path, code, want)
		}
	}

	var chunks struct {
		ChunksPerSide int     `json:"chunks_per_side"`
		Biomes        [][]int `json:"biomes"`
	}
	get(t, srv.URL+"/api/v1/chunks", &chunks)
	if chunks.ChunksPerSide != 4 || len(chunks.Biomes) != 4 || len(chunks.Biomes[3]) != 4 {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	s, srv := newTestServer(t)

	if code := post(t, srv.URL+"/api/v1/snapshot", testKey, "", nil); code != http.StatusConflict {
		t.Errorf("snapshot without session: code = %d, want 409", code)
	}

	if _, err := s.Holder.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Path  string `json:"path"`
		Bytes int64  `json:"bytes"`
	}
	if code := post(t, srv.URL+"/api/v1/snapshot", testKey, "", &resp); code != http.StatusOK {
		t.Fatalf("snapshot code = %d", code)
	}
	if _, err := os.Stat(resp.Path); err != nil {
		t.Fatalf("snapshot file: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(resp.Path)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Header.Seed != 42 {
		t.Errorf("snapshot seed = %d, want 42", snap.Header.Seed)
	}

	s.SnapshotDir = ""
	if code := post(t, srv.URL+"/api/v1/snapshot", testKey, "", nil); code != http.StatusServiceUnavailable {
		t.Errorf("disabled snapshots: code = %d, want 503", code)
	}
}

func TestStream(t *testing.T) {
	s, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() session.Event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev session.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		return ev
	}

	if ev := read(); ev.Kind != session.EventState || ev.State != "Menu" {
		t.Errorf("first event = %+v, want Menu state", ev)
	}

	// The handler subscribes before sending the state event.
	if _, err := s.Holder.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ev := read(); ev.Kind != session.EventStarted || ev.Seed != 42 {
		t.Errorf("event = %+v, want started seed 42", ev)
	}
	if err := s.Holder.Teardown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ev := read(); ev.Kind != session.EventTeardown || ev.State != "Menu" {
		t.Errorf("event = %+v, want teardown", ev)
	}
}

func TestStreamConnectionLimit(t *testing.T) {
	_, srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"

	var conns []*websocket.Conn
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < maxStreamConns; i++ {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conns = append(conns, c)
	}

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial beyond the limit should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("over-limit response = %v, want 503", resp)
	}
}
