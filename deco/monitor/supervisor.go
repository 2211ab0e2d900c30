package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const DefaultJoinTimeout = 5 * time.Second

var ErrJoinTimeout = errors.New("task still running after join timeout")

// Task is a long-running function that must return soon after ctx is cancelled.
type Task func(ctx context.Context)

// Spec describes a task for Sync. Tasks whose fingerprint changed are restarted.
type Spec struct {
	Fingerprint string
	Run         Task
}

type task struct {
	cancel      context.CancelFunc
	done        chan struct{}
	fingerprint string
}

func (t *task) alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Supervisor runs named tasks, one goroutine each, and stops them with a bounded join.
type Supervisor struct {
	mu          sync.Mutex
	log         logr.Logger
	ctx         context.Context
	tasks       map[string]*task
	joinTimeout time.Duration
}

// NewSupervisor starts tasks under ctx: cancelling it stops them all.
func NewSupervisor(ctx context.Context, joinTimeout time.Duration) *Supervisor {
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &Supervisor{
		log:         logr.FromContextOrDiscard(ctx).WithName("Supervisor"),
		ctx:         ctx,
		tasks:       make(map[string]*task),
		joinTimeout: joinTimeout,
	}
}

// Start runs fn under name, unless a task with that name is already registered.
func (s *Supervisor) Start(name string, fn Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start(name, "", fn)
}

func (s *Supervisor) start(name, fingerprint string, fn Task) bool {
	if _, ok := s.tasks[name]; ok {
		s.log.Info("Task already running", "name", name)
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, done: make(chan struct{}), fingerprint: fingerprint}
	s.tasks[name] = t

	go func() {
		defer close(t.done)
		fn(logr.NewContext(ctx, s.log.WithValues("task", name)))
	}()
	s.log.Info("Task started", "name", name)
	return true
}

// Stop cancels the named task and waits for it up to the join timeout. A task that does
// not stop in time is logged and forgotten anyway.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	s.join(name, t)
}

func (s *Supervisor) join(name string, t *task) {
	s.log.Info("Stopping task", "name", name)
	t.cancel()
	select {
	case <-t.done:
		s.log.Info("Task stopped", "name", name)
	case <-time.After(s.joinTimeout):
		s.log.Error(ErrJoinTimeout, "Task did not terminate cleanly", "name", name, "timeout", s.joinTimeout)
	}
}

// StopAll stops every task concurrently and returns once all joins are over.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for name, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.join(name, t)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) IsAlive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return ok && t.alive()
}

// Names lists the registered tasks, sorted.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CleanupFinished forgets the tasks that returned on their own and lists them.
func (s *Supervisor) CleanupFinished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := make([]string, 0)
	for name, t := range s.tasks {
		if !t.alive() {
			s.log.Info("Task has finished", "name", name)
			delete(s.tasks, name)
			finished = append(finished, name)
		}
	}
	sort.Strings(finished)
	return finished
}

// Sync makes the running tasks match specs: missing ones are started, changed ones
// restarted and unknown ones stopped.
func (s *Supervisor) Sync(specs map[string]Spec) {
	s.CleanupFinished()

	s.mu.Lock()
	stale := make(map[string]*task)
	for name, t := range s.tasks {
		spec, wanted := specs[name]
		if !wanted || spec.Fingerprint != t.fingerprint {
			stale[name] = t
			delete(s.tasks, name)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for name, t := range stale {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.join(name, t)
		}()
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, spec := range specs {
		if _, ok := s.tasks[name]; !ok {
			s.start(name, spec.Fingerprint, spec.Run)
		}
	}
}
