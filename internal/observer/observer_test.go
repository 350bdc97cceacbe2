package observer

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel/infomodeltest"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/models"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/storage"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ListEvery: 3}.withDefaults()
	d := DefaultConfig()
	assert.Equal(t, uint64(3), cfg.ListEvery)
	assert.Equal(t, d.Site, cfg.Site)
	assert.Equal(t, d.TickInterval, cfg.TickInterval)
	assert.Equal(t, 10, cfg.DiscoveryEvery)
	assert.Equal(t, "/umati/emo/machineList", cfg.MachineListTopic)
	assert.True(t, cfg.MachineType.IsZero(), "type filter stays optional")
}

func TestObserverStartStop(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	o := New(Config{}, Deps{Source: infomodeltest.NewSpace(), Publisher: &recordingPublisher{}, Clock: clk})

	require.True(t, o.Start(context.Background()))
	assert.False(t, o.Start(context.Background()))
	assert.True(t, o.Running())
	o.Stop()
	assert.False(t, o.Running())
	o.Stop()
}

// TestMachineLifecycle drives a machine through discovery, publishing and
// removal with a fake clock.
func TestMachineLifecycle(t *testing.T) {
	a := infomodeltest.NewSpace()
	clk := clockwork.NewFakeClockAt(epoch)
	pub := &recordingPublisher{}
	store, err := storage.NewBadgerStore("")
	require.NoError(t, err)
	defer store.Close()
	metrics := NewMetrics(prometheus.NewRegistry())
	o := New(Config{MachineType: infomodel.MachineToolType}, Deps{
		Source:    a,
		Publisher: pub,
		Store:     store,
		Clock:     clk,
		Metrics:   metrics,
	})
	ctx := context.Background()

	require.True(t, o.Start(ctx))
	defer o.Stop()

	// Offline machine: present in the folder, identification unreadable.
	lathe := infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: map[string]any{
		"Manufacturer":       nil,
		"SerialNumber":       nil,
		"ProductInstanceUri": nil,
	}}
	infomodeltest.MustAdd(a, lathe)
	step(t, clk, o.poller, 10)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.discoveryCycles.WithLabelValues("ok")) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, o.Len())
	assert.False(t, o.IsOnline(ctx, lathe.ID()))

	// It comes online.
	require.NoError(t, a.SetValue(infomodeltest.VariableID(lathe, "SerialNumber"), "L-1"))
	assert.True(t, o.IsOnline(ctx, lathe.ID()))
	step(t, clk, o.poller, 10)
	require.Eventually(t, func() bool { return o.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		o.PublishAll(ctx)
	}
	topic := DefaultConfig().DataSetTopicPrefix + "/nsu%3Dhttp%3A%2F%2Fexample.com%2Flathe%2F%3Bs%3DLathe"
	sets := pub.on(topic)
	require.Len(t, sets, 5)
	assert.JSONEq(t, `{"Identification":{"SerialNumber":"L-1"}}`, sets[4])
	lists := pub.on(listTopic)
	require.Len(t, lists, 1)
	assert.Contains(t, lists[0], `"nodeId":"nsu=http://example.com/lathe/;s=Lathe"`)

	// It leaves the information model.
	require.NoError(t, a.RemoveNode(lathe.ID()))
	step(t, clk, o.poller, 10)
	require.Eventually(t, func() bool {
		// cycles at ticks 0, 10, 20 and 30
		return testutil.ToFloat64(metrics.discoveryCycles.WithLabelValues("ok")) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, o.Len())

	rec, err := store.GetMachine(ctx, lathe.ID().String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, rec.Status)
	require.NotNil(t, rec.RemovedAt)
	assert.True(t, epoch.Add(30*time.Second).Equal(*rec.RemovedAt))

	// Nothing is published for it any more and the next list is empty.
	for i := 0; i < 5; i++ {
		o.PublishAll(ctx)
	}
	assert.Len(t, pub.on(topic), 5)
	lists = pub.on(listTopic)
	require.Len(t, lists, 2)
	assert.Equal(t, "[]", lists[1])

	o.Stop()
	require.NoError(t, o.registry.checkConsistency())
}
