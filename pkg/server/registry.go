package server

import (
	"math/rand"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/devnation593/chupistica/pkg/chupistica"
)

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength     = 6
	codeGenRetries = 16

	// DefaultIdleTimeout reaps waiting/playing sessions with no traffic.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultGraceEnded keeps ended sessions around for venganzas and the
	// final summary.
	DefaultGraceEnded = 10 * time.Minute
	// DefaultMaxSessions caps live sessions per process.
	DefaultMaxSessions = 1024
)

// RegistryConfig holds configuration for a session registry.
type RegistryConfig struct {
	MaxSessions      int
	IdleTimeout      time.Duration
	GraceEnded       time.Duration
	QueueSize        int
	SubscriberBuffer int
	// Seed drives the process random source; 0 seeds from the clock.
	Seed            int64
	SavedCardPolicy chupistica.SavedCardPolicy
	Saver           StateSaver
}

// Registry is the process-wide directory from session code to actor. It is
// the only shared mutable structure: lookups vastly outnumber writes, so a
// reader-biased lock guards the map. Registry mutations never happen while
// holding a session's queue.
type Registry struct {
	cfg        RegistryConfig
	log        slog.Logger
	actorLog   slog.Logger
	mu         sync.RWMutex
	actors     map[string]*Actor
	rngMu      sync.Mutex
	rng        *rand.Rand
	reaperQuit chan struct{}
	reaperOnce sync.Once
}

// NewRegistry creates a registry using per-subsystem loggers from the given
// backend.
func NewRegistry(cfg RegistryConfig, logBackend *logging.LogBackend) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.GraceEnded <= 0 {
		cfg.GraceEnded = DefaultGraceEnded
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Registry{
		cfg:        cfg,
		log:        logBackend.Logger("RGST"),
		actorLog:   logBackend.Logger("GAME"),
		actors:     make(map[string]*Actor),
		rng:        rand.New(rand.NewSource(seed)),
		reaperQuit: make(chan struct{}),
	}
}

// Create spawns a new session actor for hostID. With an empty customCode a
// fresh code is sampled; a non-empty one is claimed atomically or fails with
// CodeTaken.
func (r *Registry) Create(hostID, customCode string) (*Actor, error) {
	hostID, err := chupistica.ValidateParticipantID(hostID)
	if err != nil {
		return nil, err
	}

	var code string
	if customCode != "" {
		code, err = chupistica.ValidateCode(customCode)
		if err != nil {
			return nil, err
		}
	}

	sessionRng := r.newSessionRng()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.actors) >= r.cfg.MaxSessions {
		return nil, chupistica.Errorf(chupistica.ErrCapacityExceeded, "session cap of %d reached", r.cfg.MaxSessions)
	}

	if code == "" {
		code, err = r.generateCodeLocked()
		if err != nil {
			return nil, err
		}
	} else if _, taken := r.actors[code]; taken {
		return nil, chupistica.Errorf(chupistica.ErrCodeTaken, "code %s is already in use", code)
	}

	session, err := chupistica.NewSession(chupistica.SessionConfig{
		Code:            code,
		HostID:          hostID,
		Rng:             sessionRng,
		SavedCardPolicy: r.cfg.SavedCardPolicy,
	})
	if err != nil {
		return nil, err
	}

	bus := NewBus(code, r.cfg.SubscriberBuffer, r.actorLog)
	actor := NewActor(session, bus, r.cfg.QueueSize, r.actorLog, r.cfg.Saver)
	actor.Start()
	r.actors[code] = actor

	r.log.Infof("created session %s hosted by %s (%d live)", code, hostID, len(r.actors))
	return actor, nil
}

// Lookup resolves a code to its actor, case-insensitively.
func (r *Registry) Lookup(code string) (*Actor, error) {
	normalized, err := chupistica.ValidateCode(code)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	actor, ok := r.actors[normalized]
	r.mu.RUnlock()
	if !ok {
		return nil, chupistica.Errorf(chupistica.ErrGameNotFound, "no session with code %s", normalized)
	}
	return actor, nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}

// Remove stops and deletes a session.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	actor, ok := r.actors[code]
	if ok {
		delete(r.actors, code)
	}
	r.mu.Unlock()
	if ok {
		actor.Stop()
		r.log.Infof("removed session %s", code)
	}
}

// Reap sweeps idle sessions: ended beyond the grace period, or live with no
// commands and no subscribers beyond the idle timeout.
func (r *Registry) Reap() int {
	now := time.Now()

	r.mu.RLock()
	candidates := make([]*Actor, 0)
	for _, actor := range r.actors {
		idle := now.Sub(actor.LastActivity())
		hasSubs := actor.Bus().SubscriberCount() > 0

		var expired bool
		// Reading status from outside the actor goroutine is safe here:
		// the status machine carries its own lock and the reaper only
		// needs a monotone signal (ended is terminal).
		if actor.session.Status() == chupistica.StatusEnded {
			expired = idle > r.cfg.GraceEnded
		} else {
			expired = !hasSubs && idle > r.cfg.IdleTimeout
		}
		if expired {
			candidates = append(candidates, actor)
		}
	}
	r.mu.RUnlock()

	for _, actor := range candidates {
		r.log.Debugf("reaping idle session %s", actor.Code())
		r.Remove(actor.Code())
	}
	return len(candidates)
}

// StartReaper sweeps on the given interval until Stop.
func (r *Registry) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.reaperQuit:
				return
			case <-ticker.C:
				r.Reap()
			}
		}
	}()
}

// Stop halts the reaper and shuts down every actor.
func (r *Registry) Stop() {
	r.reaperOnce.Do(func() { close(r.reaperQuit) })

	r.mu.Lock()
	actors := r.actors
	r.actors = make(map[string]*Actor)
	r.mu.Unlock()

	for _, actor := range actors {
		actor.Stop()
	}
}

// newSessionRng derives an independent deterministic source per session.
func (r *Registry) newSessionRng() *rand.Rand {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return rand.New(rand.NewSource(r.rng.Int63()))
}

// generateCodeLocked samples codes until one is free, giving up after a
// bounded number of tries. Callers hold the write lock.
func (r *Registry) generateCodeLocked() (string, error) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()

	buf := make([]byte, codeLength)
	for attempt := 0; attempt < codeGenRetries; attempt++ {
		for i := range buf {
			buf[i] = codeAlphabet[r.rng.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		if _, taken := r.actors[code]; !taken {
			return code, nil
		}
	}
	return "", chupistica.NewGameError(chupistica.ErrCodeSpaceExhausted, "could not generate a free game code")
}
