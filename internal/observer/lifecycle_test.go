package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel/infomodeltest"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/models"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/storage"
)

func TestAddMachine(t *testing.T) {
	a := infomodeltest.NewSpace()
	lathe := infomodeltest.MustAdd(a, infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: infomodeltest.Complete("L-1")})
	pub := &recordingPublisher{}
	store, err := storage.NewBadgerStore("")
	require.NoError(t, err)
	defer store.Close()
	metrics := NewMetrics(prometheus.NewRegistry())
	o := New(Config{}, Deps{Source: a, Publisher: pub, Store: store, Metrics: metrics})
	ctx := context.Background()

	require.NoError(t, o.AddMachine(ctx, lathe))

	assert.Equal(t, []MachineInfo{{
		Name:         "Lathe",
		NamespaceURI: latheNS,
		StartNode:    lathe.NodeID,
		Site:         "offsite",
	}}, o.Machines())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.machinesOnline))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.machineAdds.WithLabelValues("ok")))

	rec, err := store.GetMachine(ctx, lathe.NodeID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, rec.Status)
	assert.EqualValues(t, 1, rec.Version)
	assert.Nil(t, rec.RemovedAt)

	o.PublishAll(ctx)
	sets := pub.on(DefaultConfig().DataSetTopicPrefix + "/nsu%3Dhttp%3A%2F%2Fexample.com%2Flathe%2F%3Bs%3DLathe")
	require.Len(t, sets, 1)
	assert.JSONEq(t, `{"Identification":{"Manufacturer":"ACME","SerialNumber":"L-1","ProductInstanceUri":"urn:acme:L-1"}}`, sets[0])
}

func TestAddMachineDuplicate(t *testing.T) {
	a := infomodeltest.NewSpace()
	lathe := infomodeltest.MustAdd(a, infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: infomodeltest.Complete("L-1")})
	created := 0
	o := New(Config{}, Deps{Source: a, Publisher: &recordingPublisher{}, NewClient: func() DataSetClient {
		created++
		return &fakeClient{}
	}})
	ctx := context.Background()

	require.NoError(t, o.AddMachine(ctx, lathe))
	require.ErrorIs(t, o.AddMachine(ctx, lathe), ErrAlreadyRegistered)
	assert.Equal(t, 1, o.Len())
	assert.Equal(t, 1, created)
}

func TestAddMachineInvalid(t *testing.T) {
	bindFailed := errors.New("bind failed")
	tests := []struct {
		name     string
		cfg      Config
		machine  func(a *infomodel.AddressSpace) infomodel.BrowseResult
		client   *fakeClient
		wantKind ErrorKind
		wantErr  error
	}{
		{
			name: "unknown namespace",
			machine: func(*infomodel.AddressSpace) infomodel.BrowseResult {
				return infomodel.BrowseResult{NodeID: infomodel.NodeID{NamespaceURI: "urn:ghost", ID: "s=Ghost"}}
			},
			client:   &fakeClient{},
			wantKind: Transient,
			wantErr:  infomodel.ErrUnknownNamespace,
		},
		{
			name: "unknown type definition",
			cfg:  Config{MachineTypeName: "PressType"},
			machine: func(a *infomodel.AddressSpace) infomodel.BrowseResult {
				return infomodeltest.MustAdd(a, infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: infomodeltest.Complete("L-1")})
			},
			client:   &fakeClient{},
			wantKind: Permanent,
			wantErr:  infomodel.ErrUnknownType,
		},
		{
			name: "data set binding fails",
			machine: func(a *infomodel.AddressSpace) infomodel.BrowseResult {
				return infomodeltest.MustAdd(a, infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: infomodeltest.Complete("L-1")})
			},
			client:   &fakeClient{addErr: bindFailed},
			wantKind: Transient,
			wantErr:  bindFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := infomodeltest.NewSpace()
			machine := tt.machine(a)
			metrics := NewMetrics(prometheus.NewRegistry())
			o := New(tt.cfg, Deps{
				Source:    a,
				Publisher: &recordingPublisher{},
				NewClient: func() DataSetClient { return tt.client },
				Metrics:   metrics,
			})

			err := o.AddMachine(context.Background(), machine)

			var invalid *MachineInvalidError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.wantKind, invalid.Kind)
			assert.Equal(t, machine.NodeID, invalid.ID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind == Permanent, IsPermanent(err))
			assert.Zero(t, o.Len())
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.machineAdds.WithLabelValues(tt.wantKind.String())))
		})
	}
}

func TestAddMachineMissingMandatoryChild(t *testing.T) {
	a := infomodeltest.NewSpace()
	lathe := infomodeltest.MustAdd(a, infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: map[string]any{"Manufacturer": "ACME"}})
	o := New(Config{}, Deps{Source: a, Publisher: &recordingPublisher{}})

	err := o.AddMachine(context.Background(), lathe)
	assert.False(t, IsPermanent(err))
	assert.ErrorIs(t, err, infomodel.ErrNodeNotFound)
	assert.Zero(t, o.Len())
}

func TestRemoveMachine(t *testing.T) {
	a := infomodeltest.NewSpace()
	lathe := infomodeltest.MustAdd(a, infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: infomodeltest.Complete("L-1")})
	store, err := storage.NewBadgerStore("")
	require.NoError(t, err)
	defer store.Close()
	metrics := NewMetrics(prometheus.NewRegistry())
	o := New(Config{}, Deps{Source: a, Publisher: &recordingPublisher{}, Store: store, Metrics: metrics})
	ctx := context.Background()

	require.NoError(t, o.AddMachine(ctx, lathe))
	assert.True(t, o.RemoveMachine(ctx, lathe))
	assert.False(t, o.RemoveMachine(ctx, lathe))
	assert.Zero(t, o.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.machinesOnline))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.machineRemovals))

	rec, err := store.GetMachine(ctx, lathe.NodeID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, rec.Status)
	assert.NotNil(t, rec.RemovedAt)
	assert.EqualValues(t, 2, rec.Version)

	require.NoError(t, o.AddMachine(ctx, lathe), "a removed machine can come back")
	rec, err = store.GetMachine(ctx, lathe.NodeID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, rec.Status)
	assert.Nil(t, rec.RemovedAt)
}

func TestRemoveMachineLogsRegisteredName(t *testing.T) {
	a := infomodeltest.NewSpace()
	lathe := infomodeltest.MustAdd(a, infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: infomodeltest.Complete("L-1")})
	logger, logs := observedLogger()
	o := New(Config{}, Deps{Source: a, Publisher: &recordingPublisher{}, Logger: logger})
	ctx := context.Background()

	require.NoError(t, o.AddMachine(ctx, lathe))
	require.True(t, o.RemoveMachine(ctx, infomodel.BrowseResult{NodeID: lathe.NodeID}))

	removed := logs.FilterMessage("remove machine").All()
	require.Len(t, removed, 1)
	assert.Equal(t, "Lathe", removed[0].ContextMap()["machine"])
}
