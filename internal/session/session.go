// Package session owns the lifecycle of the one live world: it generates a grid on start,
// publishes it to readers, and discards it on teardown. The game state machine
// (Menu, Game, Paused) and the chunk line overlay toggle live here too.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JohnReedV/Shoyu/internal/entropy"
	"github.com/JohnReedV/Shoyu/internal/persistence"
	"github.com/JohnReedV/Shoyu/internal/world"
)

var (
	// ErrSessionActive is returned by Start while a world is live.
	ErrSessionActive = errors.New("session already active")
	// ErrNoSession is returned by operations that need a live world.
	ErrNoSession = errors.New("no active session")
	// ErrInvalidTransition is returned for state changes the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State is the game state.
type State uint8

const (
	StateMenu State = iota
	StateGame
	StatePaused
)

var stateNames = [...]string{"Menu", "Game", "Paused"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// transitions lists the allowed state changes.
var transitions = map[State][]State{
	StateMenu:   {StateGame},
	StateGame:   {StatePaused, StateMenu},
	StatePaused: {StateGame, StateMenu},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Recorder stores run history. *persistence.DB satisfies it.
type Recorder interface {
	RecordRun(ctx context.Context, run persistence.Run) error
	EndRun(ctx context.Context, id string, at time.Time) error
}

// Session is one live world.
type Session struct {
	ID         uuid.UUID    `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	State      State        `json:"-"`
	ChunkLines bool         `json:"chunk_lines"`
	World      *world.World `json:"-"` // read-only once published
}

// Holder serialises start and teardown and hands out the current session to readers.
//
// life orders lifecycle changes together with their events and run records, so a
// teardown never overtakes the start it ends. mu guards the state readers see and is
// never held across I/O.
type Holder struct {
	life sync.Mutex

	mu      sync.RWMutex
	cfg     world.GenConfig
	entropy *entropy.Client
	rec     Recorder
	state   State
	current *Session

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	now  func() time.Time
	seed func(ctx context.Context) int64
}

// NewHolder creates a holder in the Menu state. ent and rec may be nil.
func NewHolder(cfg world.GenConfig, ent *entropy.Client, rec Recorder) *Holder {
	h := &Holder{
		cfg:     cfg,
		entropy: ent,
		rec:     rec,
		state:   StateMenu,
		subs:    make(map[int]chan Event),
		now:     time.Now,
	}
	h.seed = func(ctx context.Context) int64 {
		return entropy.SeedFromSource(ctx, h.entropy)
	}
	return h
}

// Config returns the generation config new sessions start from.
func (h *Holder) Config() world.GenConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// State returns the current game state.
func (h *Holder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Current returns a copy of the live session, or false in the Menu state.
func (h *Holder) Current() (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return Session{}, false
	}
	s := *h.current
	s.State = h.state
	return s, true
}

// Start generates a world from the holder's config and publishes it.
func (h *Holder) Start(ctx context.Context) (Session, error) {
	return h.StartWith(ctx, h.Config())
}

// StartWith generates a world from cfg and publishes it. A zero cfg.Seed draws a seed
// from the entropy source before any lock is taken; the seed actually used is recorded
// on the world. Readers are blocked only while the grid is generated.
func (h *Holder) StartWith(ctx context.Context, cfg world.GenConfig) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return Session{}, err
	}
	if cfg.Seed == 0 {
		if _, live := h.Current(); live {
			return Session{}, ErrSessionActive
		}
		cfg.Seed = h.seed(ctx)
	}

	h.life.Lock()
	defer h.life.Unlock()

	h.mu.Lock()
	if h.current != nil {
		h.mu.Unlock()
		return Session{}, ErrSessionActive
	}
	if !canTransition(h.state, StateGame) {
		h.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.state, StateGame)
	}

	w, err := world.Generate(cfg)
	if err != nil {
		h.mu.Unlock()
		return Session{}, fmt.Errorf("generate: %w", err)
	}

	sess := &Session{
		ID:        uuid.New(),
		StartedAt: h.now(),
		World:     w,
	}
	h.current = sess
	h.state = StateGame
	out := *sess
	out.State = StateGame
	h.mu.Unlock()

	slog.Info("session started", "id", sess.ID, "seed", w.Seed, "tiles", w.TileCount())
	h.publish(Event{Kind: EventStarted, SessionID: sess.ID.String(), State: StateGame.String(), Seed: w.Seed, At: sess.StartedAt})

	if h.rec != nil {
		if err := h.rec.RecordRun(ctx, persistence.NewRun(sess.ID.String(), w, sess.StartedAt)); err != nil {
			slog.Warn("failed to record run", "id", sess.ID, "error", err)
		}
	}
	return out, nil
}

// Teardown discards the live world and returns to the Menu state.
func (h *Holder) Teardown(ctx context.Context) error {
	h.life.Lock()
	defer h.life.Unlock()

	h.mu.Lock()
	if h.current == nil {
		h.mu.Unlock()
		return ErrNoSession
	}
	if !canTransition(h.state, StateMenu) {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.state, StateMenu)
	}
	sess := h.current
	h.current = nil
	h.state = StateMenu
	h.mu.Unlock()

	at := h.now()
	slog.Info("session torn down", "id", sess.ID, "lifetime", at.Sub(sess.StartedAt).Round(time.Millisecond))
	h.publish(Event{Kind: EventTeardown, SessionID: sess.ID.String(), State: StateMenu.String(), Seed: sess.World.Seed, At: at})

	if h.rec != nil {
		if err := h.rec.EndRun(ctx, sess.ID.String(), at); err != nil {
			slog.Warn("failed to end run", "id", sess.ID, "error", err)
		}
	}
	return nil
}

// Pause toggles between Game and Paused and returns the new state.
func (h *Holder) Pause() (State, error) {
	h.life.Lock()
	defer h.life.Unlock()

	h.mu.Lock()
	if h.current == nil {
		h.mu.Unlock()
		return h.State(), ErrNoSession
	}
	next := StatePaused
	if h.state == StatePaused {
		next = StateGame
	}
	if !canTransition(h.state, next) {
		from := h.state
		h.mu.Unlock()
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	h.state = next
	id, seed := h.current.ID, h.current.World.Seed
	h.mu.Unlock()

	kind := EventPaused
	if next == StateGame {
		kind = EventResumed
	}
	slog.Info("session state changed", "id", id, "state", next)
	h.publish(Event{Kind: kind, SessionID: id.String(), State: next.String(), Seed: seed, At: h.now()})
	return next, nil
}

// ToggleChunkLines flips the chunk line overlay flag of the live session.
func (h *Holder) ToggleChunkLines() (bool, error) {
	h.life.Lock()
	defer h.life.Unlock()

	h.mu.Lock()
	if h.current == nil {
		h.mu.Unlock()
		return false, ErrNoSession
	}
	h.current.ChunkLines = !h.current.ChunkLines
	on := h.current.ChunkLines
	id, seed, state := h.current.ID, h.current.World.Seed, h.state
	h.mu.Unlock()

	h.publish(Event{Kind: EventChunkLines, SessionID: id.String(), State: state.String(), Seed: seed, ChunkLines: on, At: h.now()})
	return on, nil
}
