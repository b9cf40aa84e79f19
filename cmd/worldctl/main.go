// Command worldctl drives and inspects a running Shoyu server from the shell.
//
//	worldctl status
//	worldctl chunks
//	worldctl start [-seed N | -run ID]
//	worldctl teardown | pause | chunk-lines | snapshot
//	worldctl runs [-n 20]
//	worldctl inspect [-header] [-map] <file.snap.zst>
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JohnReedV/Shoyu/internal/client"
	"github.com/JohnReedV/Shoyu/internal/snapshot"
	"github.com/JohnReedV/Shoyu/internal/world"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	apiURL := envOrDefault("SHOYU_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("SHOYU_ADMIN_KEY")

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "inspect":
		err = inspectCmd(args)
	case "status":
		err = statusCmd(apiURL)
	case "chunks":
		err = chunksCmd(apiURL)
	case "runs":
		err = runsCmd(apiURL, args)
	case "start", "teardown", "pause", "chunk-lines", "snapshot":
		if adminKey == "" {
			fmt.Fprintln(os.Stderr, "SHOYU_ADMIN_KEY is required for", cmd)
			os.Exit(2)
		}
		waitForAPI(apiURL)
		err = adminCmd(client.NewActor(apiURL, adminKey), cmd, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: worldctl <status|chunks|start|teardown|pause|chunk-lines|snapshot|runs|inspect> [flags]")
}

func statusCmd(apiURL string) error {
	st, err := client.NewObserver(apiURL).Status()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", st.Name, st.State)
	if !st.Live() {
		return nil
	}
	fmt.Printf("session   %s\n", st.SessionID)
	fmt.Printf("seed      %d\n", st.Seed)
	fmt.Printf("world     %dx%d tiles, chunk %d, tile %g\n", st.WorldSize, st.WorldSize, st.ChunkSize, st.TileSize)
	fmt.Printf("overlay   chunk lines %v\n", st.ChunkLines)
	fmt.Printf("uptime    %s\n", st.Uptime)
	return nil
}

// chunksCmd prints the live world's chunk biome grid and per-biome chunk counts.
func chunksCmd(apiURL string) error {
	c, err := client.NewObserver(apiURL).Chunks()
	if err != nil {
		return err
	}
	fmt.Printf("%dx%d chunks of %d tiles, chunk lines %v\n", c.ChunksPerSide, c.ChunksPerSide, c.ChunkSize, c.ChunkLines)

	grid := make([][]world.TerrainType, len(c.Biomes))
	for cy, row := range c.Biomes {
		grid[cy] = make([]world.TerrainType, len(row))
		for cx, b := range row {
			grid[cy][cx] = world.TerrainType(b)
		}
	}
	printChunkMap(grid)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BIOME\tCHUNKS")
	for _, name := range c.Terrains {
		fmt.Fprintf(tw, "%s\t%s\n", name, humanize.Comma(int64(c.Counts[name])))
	}
	return tw.Flush()
}

func runsCmd(apiURL string, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	n := fs.Int("n", 20, "number of runs to list")
	_ = fs.Parse(args)

	runs, err := client.NewObserver(apiURL).Runs(*n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEED\tSIZE\tMOSTLY\tTREES\tSTARTED\tLIFETIME")
	for _, r := range runs {
		started := time.UnixMilli(r.StartedAt)
		lifetime := "live"
		if r.EndedAt != nil {
			lifetime = time.UnixMilli(*r.EndedAt).Sub(started).Round(time.Second).String()
		}
		mostly := r.Dominant()
		if mostly == "" {
			mostly = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d/%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Seed, r.WorldSize, r.ChunkSize, mostly, humanize.Comma(int64(r.Trees)),
			humanize.Time(started), lifetime)
	}
	return tw.Flush()
}

func adminCmd(actor *client.Actor, cmd string, args []string) error {
	switch cmd {
	case "start":
		fs := flag.NewFlagSet("start", flag.ExitOnError)
		seed := fs.Int64("seed", 0, "world seed (0 = server draws one)")
		runID := fs.String("run", "", "regenerate a recorded run by ID")
		_ = fs.Parse(args)

		var res *client.StartResult
		var err error
		if *runID != "" {
			res, err = actor.Replay(*runID)
		} else {
			res, err = actor.Start(*seed)
		}
		if err != nil {
			return err
		}
		fmt.Printf("started session %s (seed %d, %s tiles)\n", res.SessionID, res.Seed, humanize.Comma(int64(res.Tiles)))
		if res.ReplayOf != "" {
			fmt.Printf("replay of run %s\n", res.ReplayOf)
		}
	case "teardown":
		state, err := actor.Teardown()
		if err != nil {
			return err
		}
		fmt.Println("state:", state)
	case "pause":
		state, err := actor.Pause()
		if err != nil {
			return err
		}
		fmt.Println("state:", state)
	case "chunk-lines":
		on, err := actor.ChunkLines()
		if err != nil {
			return err
		}
		fmt.Println("chunk lines:", on)
	case "snapshot":
		res, err := actor.Snapshot()
		if err != nil {
			return err
		}
		fmt.Printf("snapshot written: %s (%s)\n", res.Path, res.Size)
	}
	return nil
}

// inspectCmd summarises a snapshot file without a running server.
func inspectCmd(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	showMap := fs.Bool("map", false, "print the chunk biome grid")
	headerOnly := fs.Bool("header", false, "print only the header line, without decoding the grid")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("inspect needs exactly one snapshot path")
	}
	path := fs.Arg(0)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if *headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			return err
		}
		printHeader(path, info.Size(), h)
		fmt.Printf("world     %dx%d tiles, chunk %d\n", h.WorldSize, h.WorldSize, h.ChunkSize)
		return nil
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	w, err := snap.World()
	if err != nil {
		return err
	}

	printHeader(path, info.Size(), snap.Header)
	fmt.Printf("world     %dx%d tiles, %dx%d chunks\n", w.Size(), w.Size(), w.ChunksPerSide(), w.ChunksPerSide())

	tiles := world.TerrainCounts(w)
	biomes := world.BiomeCounts(w)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TERRAIN\tTILES\tSHARE\tCHUNKS")
	for _, t := range world.AllTerrains() {
		share := 100 * float64(tiles[t]) / float64(w.TileCount())
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\n", world.TerrainName(t), humanize.Comma(int64(tiles[t])), share, humanize.Comma(int64(biomes[t])))
	}
	tw.Flush()
	fmt.Printf("trees     %s\n", humanize.Comma(int64(world.StructureCount(w, world.StructureTree))))

	if *showMap {
		printChunkMap(w.ChunkBiomes)
	}
	return nil
}

func printHeader(path string, size int64, h snapshot.Header) {
	fmt.Printf("snapshot  %s (%s on disk, format v%d)\n", path, humanize.Bytes(uint64(size)), h.Version)
	fmt.Printf("session   %s\n", h.SessionID)
	fmt.Printf("created   %s (%s)\n", h.CreatedAt.Format(time.RFC3339), humanize.Time(h.CreatedAt))
	fmt.Printf("seed      %d\n", h.Seed)
}

var biomeGlyphs = map[world.TerrainType]byte{
	world.TerrainGround:   '.',
	world.TerrainGrass:    '"',
	world.TerrainMountain: '^',
	world.TerrainThud:     '#',
	world.TerrainWater:    '~',
}

func printChunkMap(biomes [][]world.TerrainType) {
	for _, row := range biomes {
		var b strings.Builder
		for _, biome := range row {
			glyph, ok := biomeGlyphs[biome]
			if !ok {
				glyph = '?'
			}
			b.WriteByte(glyph)
		}
		fmt.Println(b.String())
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// waitForAPI polls the status endpoint with exponential backoff until it responds.
// Exits after one minute if the API never becomes ready.
func waitForAPI(apiURL string) {
	backoff := 500 * time.Millisecond
	maxBackoff := 8 * time.Second
	deadline := time.Now().Add(time.Minute)
	if d, err := time.ParseDuration(os.Getenv("SHOYU_WAIT")); err == nil {
		deadline = time.Now().Add(d)
	}

	obs := client.NewObserver(apiURL)
	obs.HTTPClient.Timeout = 5 * time.Second
	for {
		if obs.Ready() {
			return
		}
		if time.Now().After(deadline) {
			slog.Error("shoyu API did not become ready", "url", apiURL)
			os.Exit(1)
		}
		slog.Info("shoyu not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
