package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/storage"
)

var (
	ErrIDRequired    = errors.New("id required")
	ErrUnknownAction = errors.New("unknown action")
)

// Notifier publishes build lifecycle events. events.Publisher satisfies it.
type Notifier interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Limits bounds what the simulator agrees to build. Zero values mean no limit.
type Limits struct {
	MaxCPUs     int
	MaxRAMGB    int
	MaxHDDGB    int
	SupportedOS []string
}

func (l Limits) check(m machine.Machine) string {
	s := m.Sizing()
	switch {
	case l.MaxCPUs > 0 && s.CPUs > l.MaxCPUs:
		return fmt.Sprintf("cpus %d exceed limit %d", s.CPUs, l.MaxCPUs)
	case l.MaxRAMGB > 0 && s.RAMGB > l.MaxRAMGB:
		return fmt.Sprintf("ram_gb %d exceeds limit %d", s.RAMGB, l.MaxRAMGB)
	case l.MaxHDDGB > 0 && s.HDDGB > l.MaxHDDGB:
		return fmt.Sprintf("hdd_gb %d exceeds limit %d", s.HDDGB, l.MaxHDDGB)
	}
	if len(l.SupportedOS) == 0 {
		return ""
	}
	for _, os := range l.SupportedOS {
		if strings.EqualFold(os, s.OS) {
			return ""
		}
	}
	return fmt.Sprintf("os %q not supported", s.OS)
}

// Simulator is a SystemBuildService that records builds in a Store and moves
// them from pending to running after a boot delay.
type Simulator struct {
	store     storage.Store
	limits    Limits
	bootDelay time.Duration
	notifier  Notifier
	subject   string
	logger    *zap.Logger
	now       func() time.Time

	mu sync.RWMutex
	// in-memory cache of builds to avoid hot DB on reads; persisted in store.
	cache map[string]*machine.Build
	// operations mutex per build id
	opMu sync.Map

	life    sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	closing chan struct{}
}

// Option configures a Simulator.
type Option func(*Simulator)

func WithLimits(l Limits) Option {
	return func(s *Simulator) { s.limits = l }
}

func WithBootDelay(d time.Duration) Option {
	return func(s *Simulator) { s.bootDelay = d }
}

// WithNotifier publishes a machine.created event on subject for every build.
func WithNotifier(n Notifier, subject string) Option {
	return func(s *Simulator) {
		s.notifier = n
		s.subject = subject
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// NewSimulator creates a simulator backed by store.
func NewSimulator(store storage.Store, opts ...Option) *Simulator {
	s := &Simulator{
		store:     store,
		bootDelay: 500 * time.Millisecond,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		cache:     make(map[string]*machine.Build),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateNewMachine records a pending build and returns its id. It returns ""
// when the machine is invalid, outside the configured limits, or cannot be
// saved.
func (s *Simulator) CreateNewMachine(ctx context.Context, m machine.Machine) string {
	if err := m.Validate(); err != nil {
		s.logger.Info("build refused", zap.String("machine", m.Key()), zap.Error(err))
		return ""
	}
	if reason := s.limits.check(m); reason != "" {
		s.logger.Info("build refused", zap.String("machine", m.Key()), zap.String("reason", reason))
		return ""
	}
	s.life.Lock()
	if s.closed {
		s.life.Unlock()
		s.logger.Info("build refused", zap.String("machine", m.Key()), zap.String("reason", "simulator closed"))
		return ""
	}
	s.wg.Add(1)
	s.life.Unlock()

	now := s.now()
	b := &machine.Build{
		ID:         uuid.NewString(),
		Requestor:  m.RequestorName(),
		Kind:       m.Kind(),
		MachineKey: m.Key(),
		HostName:   m.Sizing().HostName,
		Status:     machine.StatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   map[string]string{"os": m.Sizing().OS},
	}

	if err := s.store.SaveBuild(ctx, b); err != nil {
		s.wg.Done()
		s.logger.Error("save build", zap.String("machine", b.MachineKey), zap.Error(err))
		return ""
	}
	s.putCache(b)

	// spawn background startup routine
	go s.boot(b.ID)

	s.notify(ctx, b)
	return b.ID
}

// GetBuild returns a build (from cache or store).
func (s *Simulator) GetBuild(ctx context.Context, id string) (*machine.Build, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	s.mu.RLock()
	if b, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		cp := *b
		return &cp, nil
	}
	s.mu.RUnlock()

	b, err := s.store.GetBuild(ctx, id)
	if err != nil {
		return nil, err
	}
	s.putCache(b)
	cp := *b
	return &cp, nil
}

// ListBuilds returns the stored builds recorded for requestor.
func (s *Simulator) ListBuilds(ctx context.Context, requestor string) ([]*machine.Build, error) {
	return s.store.ListByRequestor(ctx, requestor)
}

// Start sets a build's status to running.
func (s *Simulator) Start(ctx context.Context, id string) (string, error) {
	return s.performAction(ctx, id, "start")
}

// Stop sets a build's status to stopped.
func (s *Simulator) Stop(ctx context.Context, id string) (string, error) {
	return s.performAction(ctx, id, "stop")
}

// Close stops accepting builds and waits for in-flight boots.
func (s *Simulator) Close() {
	s.life.Lock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	s.life.Unlock()
	s.wg.Wait()
}

// performAction is idempotent and guarded per build.
func (s *Simulator) performAction(ctx context.Context, id, action string) (string, error) {
	if id == "" {
		return "", ErrIDRequired
	}
	unlock := s.lock(id)
	defer unlock()

	b, err := s.GetBuild(ctx, id)
	if err != nil {
		return "", err
	}

	switch action {
	case "start":
		if b.Status == machine.StatusRunning {
			return "already running", nil
		}
		b.Status = machine.StatusRunning
	case "stop":
		if b.Status == machine.StatusStopped {
			return "already stopped", nil
		}
		b.Status = machine.StatusStopped
	default:
		return "", ErrUnknownAction
	}

	b.Version++
	b.UpdatedAt = s.now()
	if err := s.store.SaveBuild(ctx, b); err != nil {
		return "", err
	}
	s.putCache(b)
	return "ok", nil
}

// boot simulates the startup process of a pending build.
func (s *Simulator) boot(id string) {
	defer s.wg.Done()

	t := time.NewTimer(s.bootDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.closing:
		return
	}

	unlock := s.lock(id)
	defer unlock()

	ctx := context.Background()
	b, err := s.GetBuild(ctx, id)
	if err != nil {
		s.logger.Warn("boot: load build", zap.String("id", id), zap.Error(err))
		return
	}
	// Stopped or started while booting.
	if b.Status != machine.StatusPending {
		return
	}

	b.Status = machine.StatusRunning
	b.Version++
	b.UpdatedAt = s.now()
	if err := s.store.SaveBuild(ctx, b); err != nil {
		s.logger.Warn("boot: save build", zap.String("id", id), zap.Error(err))
		return
	}
	s.putCache(b)
	s.logger.Debug("build running", zap.String("id", id))
}

func (s *Simulator) putCache(b *machine.Build) {
	cp := *b
	s.mu.Lock()
	s.cache[b.ID] = &cp
	s.mu.Unlock()
}

// lock ensures only one operation per build at a time.
func (s *Simulator) lock(id string) func() {
	v, _ := s.opMu.LoadOrStore(id, &sync.Mutex{})
	mtx := v.(*sync.Mutex)
	mtx.Lock()
	return mtx.Unlock
}

func (s *Simulator) notify(ctx context.Context, b *machine.Build) {
	if s.notifier == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"event":     "machine.created",
		"id":        b.ID,
		"requestor": b.Requestor,
		"kind":      b.Kind,
		"host_name": b.HostName,
		"time":      b.CreatedAt.Unix(),
	})
	if err != nil {
		return
	}
	if err := s.notifier.Publish(ctx, s.subject, payload); err != nil {
		s.logger.Warn("publish machine.created failed", zap.String("id", b.ID), zap.Error(err))
	}
}
