package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/observer"
)

type fakeObserver struct {
	mu        sync.Mutex
	running   bool
	published chan struct{}
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{published: make(chan struct{}, 16)}
}

func (f *fakeObserver) Machines() []observer.MachineInfo { return nil }

func (f *fakeObserver) IsOnline(context.Context, infomodel.NodeID) bool { return false }

func (f *fakeObserver) PublishAll(context.Context) { f.published <- struct{}{} }

func (f *fakeObserver) Start(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	return true
}

func (f *fakeObserver) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeObserver) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakeBroker struct{ connected atomic.Bool }

func (b *fakeBroker) Connected() bool { return b.connected.Load() }

func TestRunPublishesOnEveryTick(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2024, 9, 16, 8, 0, 0, 0, time.UTC))
	obs := newFakeObserver()
	broker := &fakeBroker{}
	broker.connected.Store(true)
	s := New(Config{PublishInterval: time.Second}, Deps{Observer: obs, Broker: broker, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, clk.BlockUntilContext(waitCtx, 1), "publish ticker created")
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		<-obs.published
	}
	assert.True(t, obs.isRunning())

	status, err := s.HealthStatus(ctx, ObserverService)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	broker.connected.Store(false)
	clk.Advance(time.Second)
	<-obs.published
	require.Eventually(t, func() bool {
		status, err := s.HealthStatus(context.Background(), "")
		return err == nil && status == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, obs.isRunning(), "observer stopped on shutdown")
}

func TestRunRefusesRunningObserver(t *testing.T) {
	obs := newFakeObserver()
	require.True(t, obs.Start(context.Background()))
	s := New(Config{}, Deps{Observer: obs, Clock: clockwork.NewFakeClock()})

	assert.Error(t, s.Run(context.Background()))
}

func TestRunListenFailure(t *testing.T) {
	s := New(Config{GRPCAddr: "256.0.0.1:0"}, Deps{Observer: newFakeObserver()})
	assert.ErrorContains(t, s.Run(context.Background()), "listen grpc")
}

func TestHandler(t *testing.T) {
	s := New(Config{}, Deps{Observer: newFakeObserver()})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/publish", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
