package vmactor

import (
	"context"
	"log/slog"
	"sync"
)

// Supervisor owns a set of Actors keyed by vm_id and restarts one on
// abnormal exit (a panic recovered from its command-processing
// goroutine) with fresh Init state. Normal Stop and intentional
// shutdown reasons do not restart — the actor is transient, matching
// the teacher's process-supervision idiom generalized from OS
// processes to goroutines.
type Supervisor struct {
	mu        sync.Mutex
	actors    map[string]*Actor
	factory   map[string]func() *Actor
	log       *slog.Logger
	onRestart func(vmID string)
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor(log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		actors:  make(map[string]*Actor),
		factory: make(map[string]func() *Actor),
		log:     log,
	}
}

// OnRestart registers a callback invoked after an actor is restarted
// with fresh Init state following an abnormal exit. Callers (typically
// pool.Manager) use this to evict any job/warm mapping that pointed at
// the crashed actor's prior, now-gone state.
func (s *Supervisor) OnRestart(fn func(vmID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRestart = fn
}

// Start registers vmID's actor and launches its goroutine under
// supervision. newActor is retained so the actor can be recreated with
// fresh state after an abnormal exit.
func (s *Supervisor) Start(ctx context.Context, vmID string, newActor func() *Actor) *Actor {
	s.mu.Lock()
	defer s.mu.Unlock()

	actor := newActor()
	s.actors[vmID] = actor
	s.factory[vmID] = newActor
	go s.run(ctx, vmID, actor)
	return actor
}

func (s *Supervisor) run(ctx context.Context, vmID string, actor *Actor) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("vm actor panicked, restarting", "vm_id", vmID, "panic", r)
			s.restart(ctx, vmID)
			return
		}
	}()
	actor.Run(ctx)
}

func (s *Supervisor) restart(ctx context.Context, vmID string) {
	s.mu.Lock()
	newActor, ok := s.factory[vmID]
	s.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	actor := newActor()
	s.actors[vmID] = actor
	onRestart := s.onRestart
	s.mu.Unlock()
	go s.run(ctx, vmID, actor)

	if onRestart != nil {
		onRestart(vmID)
	}
}

// Get returns the live actor for vmID, or false if none is registered.
func (s *Supervisor) Get(vmID string) (*Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[vmID]
	return a, ok
}

// Remove unregisters vmID so a crash after an intentional Stop does not
// trigger a restart.
func (s *Supervisor) Remove(vmID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actors, vmID)
	delete(s.factory, vmID)
}

// Actors returns a snapshot of every currently-registered vm_id.
func (s *Supervisor) Actors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.actors))
	for id := range s.actors {
		ids = append(ids, id)
	}
	return ids
}
