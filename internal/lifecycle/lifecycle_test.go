package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubComponent struct {
	name        string
	initCalled  bool
	runStarted  chan struct{}
	shutdown    bool
	runErr      error
	health      Health
}

func newStub(name string) *stubComponent {
	return &stubComponent{name: name, runStarted: make(chan struct{}, 1), health: HealthHealthy}
}

func (s *stubComponent) Name() string { return s.name }
func (s *stubComponent) Init(ctx context.Context) error {
	s.initCalled = true
	return nil
}
func (s *stubComponent) Run(ctx context.Context) error {
	s.runStarted <- struct{}{}
	<-ctx.Done()
	return s.runErr
}
func (s *stubComponent) Shutdown(ctx context.Context) error {
	s.shutdown = true
	return nil
}
func (s *stubComponent) Health() Health { return s.health }

func TestSupervisorRunsInitAndShutdownForAllComponents(t *testing.T) {
	a := newStub("a")
	b := newStub("b")
	sup := NewSupervisor(nil)
	sup.Register(a)
	sup.Register(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	<-a.runStarted
	<-b.runStarted
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}

	require.True(t, a.initCalled)
	require.True(t, b.initCalled)
	require.True(t, a.shutdown)
	require.True(t, b.shutdown)
}

func TestHealthReportReflectsComponents(t *testing.T) {
	a := newStub("a")
	a.health = HealthDegraded
	sup := NewSupervisor(nil)
	sup.Register(a)

	report := sup.HealthReport()
	require.Equal(t, HealthDegraded, report["a"])
}
