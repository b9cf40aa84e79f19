package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StartResult is the response from POST /api/v1/start.
type StartResult struct {
	SessionID string `json:"session_id"`
	Seed      int64  `json:"seed"`
	State     string `json:"state"`
	Tiles     int    `json:"tiles"`
	ReplayOf  string `json:"replay_of,omitempty"`
}

// SnapshotResult is the response from POST /api/v1/snapshot.
type SnapshotResult struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
	Size  string `json:"size"`
}

// Actor drives the session via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			// Full-size generation runs inside the start request.
			Timeout: 2 * time.Minute,
		},
	}
}

// Start asks the server to generate a world. A zero seed lets the server draw one.
func (a *Actor) Start(seed int64) (*StartResult, error) {
	var body any
	if seed != 0 {
		body = map[string]int64{"seed": seed}
	}
	var res StartResult
	if err := a.post("/api/v1/start", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Replay regenerates a recorded run with the config and seed it was started with.
func (a *Actor) Replay(runID string) (*StartResult, error) {
	var res StartResult
	if err := a.post("/api/v1/start", map[string]string{"run_id": runID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Teardown discards the live world. Returns the new state.
func (a *Actor) Teardown() (string, error) {
	var res struct {
		State string `json:"state"`
	}
	err := a.post("/api/v1/teardown", nil, &res)
	return res.State, err
}

// Pause toggles between Game and Paused. Returns the new state.
func (a *Actor) Pause() (string, error) {
	var res struct {
		State string `json:"state"`
	}
	err := a.post("/api/v1/pause", nil, &res)
	return res.State, err
}

// ChunkLines toggles the chunk line overlay. Returns the new flag.
func (a *Actor) ChunkLines() (bool, error) {
	var res struct {
		ChunkLines bool `json:"chunk_lines"`
	}
	err := a.post("/api/v1/chunk-lines", nil, &res)
	return res.ChunkLines, err
}

// Snapshot asks the server to export the live world.
func (a *Actor) Snapshot() (*SnapshotResult, error) {
	var res SnapshotResult
	if err := a.post("/api/v1/snapshot", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *Actor) post(path string, payload, target any) error {
	var reader io.Reader = strings.NewReader("")
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(http.MethodPost, a.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Method: http.MethodPost, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
