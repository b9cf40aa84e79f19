// Package snapshot exports a live world grid to disk for offline inspection.
// The file is a zstd stream holding one JSON header line followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/JohnReedV/Shoyu/internal/world"
)

// Version is the current snapshot format.
const Version = 1

// ErrUnsupportedVersion is returned for snapshots written in an unknown format.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version   int       `json:"version"`
	SessionID string    `json:"session_id"`
	Seed      int64     `json:"seed"`
	WorldSize int       `json:"world_size"`
	ChunkSize int       `json:"chunk_size"`
	CreatedAt time.Time `json:"created_at"`
}

type SnapshotV1 struct {
	Header Header          `json:"header"`
	Config world.GenConfig `json:"config"`

	// Row-major, WorldSize*WorldSize entries.
	Terrain    []uint8 `json:"terrain"`
	Structures []uint8 `json:"structures"`
	// Row-major, ChunksPerSide*ChunksPerSide entries.
	ChunkBiomes []uint8 `json:"chunk_biomes"`
}

// FromWorld flattens a generated world into a snapshot.
func FromWorld(sessionID string, w *world.World, at time.Time) SnapshotV1 {
	n := w.Size()
	snap := SnapshotV1{
		Header: Header{
			Version:   Version,
			SessionID: sessionID,
			Seed:      w.Seed,
			WorldSize: n,
			ChunkSize: w.Config.ChunkSize,
			CreatedAt: at.UTC(),
		},
		Config:      w.Config,
		Terrain:     make([]uint8, 0, n*n),
		Structures:  make([]uint8, 0, n*n),
		ChunkBiomes: make([]uint8, 0, w.ChunksPerSide()*w.ChunksPerSide()),
	}
	snap.Config.Seed = w.Seed
	for _, row := range w.Tiles {
		for _, t := range row {
			snap.Terrain = append(snap.Terrain, uint8(t.Terrain))
			snap.Structures = append(snap.Structures, uint8(t.Structure))
		}
	}
	for _, row := range w.ChunkBiomes {
		for _, b := range row {
			snap.ChunkBiomes = append(snap.ChunkBiomes, uint8(b))
		}
	}
	return snap
}

// World rebuilds the tile and chunk grids stored in the snapshot.
func (s SnapshotV1) World() (*world.World, error) {
	if err := s.Config.Validate(); err != nil {
		return nil, err
	}
	n := s.Config.WorldSize
	cn := s.Config.ChunksPerSide()
	if len(s.Terrain) != n*n || len(s.Structures) != n*n {
		return nil, fmt.Errorf("snapshot has %d/%d tiles, want %d", len(s.Terrain), len(s.Structures), n*n)
	}
	if len(s.ChunkBiomes) != cn*cn {
		return nil, fmt.Errorf("snapshot has %d chunks, want %d", len(s.ChunkBiomes), cn*cn)
	}

	w := world.NewWorld(s.Config, s.Header.Seed)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			t := &w.Tiles[row][col]
			t.Terrain = world.TerrainType(s.Terrain[row*n+col])
			t.Structure = world.Structure(s.Structures[row*n+col])
		}
	}
	for cy := 0; cy < cn; cy++ {
		for cx := 0; cx < cn; cx++ {
			w.ChunkBiomes[cy][cx] = world.TerrainType(s.ChunkBiomes[cy*cn+cx])
		}
	}
	return w, nil
}

// Filename returns the conventional snapshot path for a session.
func Filename(dir, sessionID string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("world-%s-%s.snap.zst", at.UTC().Format("20060102T150405Z"), sessionID))
}

// WriteSnapshot writes snap to path and returns the compressed file size.
func WriteSnapshot(path string, snap SnapshotV1) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	if err := encode(f, snap); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	slog.Info("snapshot written",
		"path", path,
		"seed", snap.Header.Seed,
		"tiles", len(snap.Terrain),
		"size", humanize.Bytes(uint64(info.Size())),
	)
	return info.Size(), nil
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader decodes only the JSON header line of a snapshot.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Header.Version)
	}
	return snap, nil
}
