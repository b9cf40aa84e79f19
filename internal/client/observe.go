// Package client talks to a running Shoyu server over its HTTP API.
// Observer covers the public GET endpoints; Actor covers the admin POST endpoints.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Status mirrors GET /api/v1/status.
type Status struct {
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Subscribers int     `json:"subscribers"`
	SessionID   string  `json:"session_id,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
	WorldSize   int     `json:"world_size,omitempty"`
	ChunkSize   int     `json:"chunk_size,omitempty"`
	TileSize    float64 `json:"tile_size,omitempty"`
	ChunkLines  bool    `json:"chunk_lines,omitempty"`
	StartedAt   string  `json:"started_at,omitempty"`
	Uptime      string  `json:"uptime,omitempty"`
}

// Live reports whether a world is currently generated.
func (s Status) Live() bool {
	return s.SessionID != ""
}

// Run mirrors items from GET /api/v1/runs.
type Run struct {
	ID        string  `json:"id"`
	Seed      int64   `json:"seed"`
	WorldSize int     `json:"world_size"`
	ChunkSize int     `json:"chunk_size"`
	TileSize  float64 `json:"tile_size"`
	Trees     int     `json:"trees"`
	StartedAt int64   `json:"started_at"`
	EndedAt   *int64  `json:"ended_at,omitempty"`

	Terrain map[string]int `json:"terrain,omitempty"`
}

// Dominant returns the terrain covering the most tiles, or "" when counts are missing.
// Ties go to the alphabetically first name.
func (r Run) Dominant() string {
	best, bestN := "", -1
	for name, n := range r.Terrain {
		if n > bestN || (n == bestN && name < best) {
			best, bestN = name, n
		}
	}
	return best
}

// Chunks mirrors GET /api/v1/chunks.
type Chunks struct {
	ChunksPerSide int            `json:"chunks_per_side"`
	ChunkSize     int            `json:"chunk_size"`
	ChunkLines    bool           `json:"chunk_lines"`
	Terrains      []string       `json:"terrains"`
	Biomes        [][]int        `json:"biomes"`
	Counts        map[string]int `json:"counts"`
}

// APIError is a non-200 response from the server.
type APIError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Observer fetches world state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Status fetches the session state.
func (o *Observer) Status() (*Status, error) {
	var st Status
	if err := o.fetchJSON("/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Runs fetches the most recent runs, newest first.
func (o *Observer) Runs(limit int) ([]Run, error) {
	var runs []Run
	if err := o.fetchJSON(fmt.Sprintf("/api/v1/runs?limit=%d", limit), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Chunks fetches the chunk biome grid of the live world.
func (o *Observer) Chunks() (*Chunks, error) {
	var c Chunks
	if err := o.fetchJSON("/api/v1/chunks", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Ready reports whether the status endpoint answers with 200.
func (o *Observer) Ready() bool {
	resp, err := o.HTTPClient.Get(o.BaseURL + "/api/v1/status")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
