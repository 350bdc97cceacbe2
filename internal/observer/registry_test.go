package observer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

func testInfo(id infomodel.NodeID) MachineInfo {
	return MachineInfo{Name: id.ID, NamespaceURI: id.NamespaceURI, StartNode: id, Site: "offsite"}
}

func TestRegistryAdd(t *testing.T) {
	r := NewRegistry(nil)
	id := infomodel.NodeID{NamespaceURI: latheNS, ID: "s=Lathe"}

	require.NoError(t, r.Add(id, testInfo(id), &fakeClient{}))
	assert.True(t, r.Contains(id))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []infomodel.NodeID{id}, r.Keys())
	require.NoError(t, r.checkConsistency())

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, id, snap[0].ID)
	assert.Equal(t, "offsite", snap[0].Info.Site)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	logger, logs := observedLogger()
	r := NewRegistry(logger)
	id := infomodel.NodeID{NamespaceURI: latheNS, ID: "s=Lathe"}
	first := &fakeClient{}

	require.NoError(t, r.Add(id, testInfo(id), first))
	err := r.Add(id, MachineInfo{Name: "imposter"}, &fakeClient{})
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	dup := logs.FilterMessage("machine already registered, rejecting")
	require.Equal(t, 1, dup.Len())
	assert.Equal(t, zapcore.WarnLevel, dup.All()[0].Level)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Same(t, first, snap[0].Client)
	assert.Equal(t, id.ID, snap[0].Info.Name)
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	logger, logs := observedLogger()
	r := NewRegistry(logger)
	id := infomodel.NodeID{NamespaceURI: latheNS, ID: "s=Lathe"}
	require.NoError(t, r.Add(id, testInfo(id), &fakeClient{}))

	entry, ok := r.Remove(id)
	require.True(t, ok)
	assert.Equal(t, id, entry.ID)

	_, ok = r.Remove(id)
	assert.False(t, ok)
	_, ok = r.Remove(infomodel.NodeID{ID: "s=Never"})
	assert.False(t, ok)

	assert.Equal(t, 2, logs.FilterMessage("machine not known").Len())
	assert.Zero(t, r.Len())
	require.NoError(t, r.checkConsistency())

	require.NoError(t, r.Add(id, testInfo(id), &fakeClient{}), "re-add after remove")
}

func TestRegistrySnapshotOutlivesRemoval(t *testing.T) {
	r := NewRegistry(nil)
	id := infomodel.NodeID{NamespaceURI: latheNS, ID: "s=Lathe"}
	client := &fakeClient{}
	require.NoError(t, r.Add(id, testInfo(id), client))

	snap := r.Snapshot()
	r.Remove(id)

	require.NoError(t, snap[0].Client.Publish(context.Background()))
	assert.EqualValues(t, 1, client.publishes.Load())
}

func TestRegistryDetectsOneSidedRemoval(t *testing.T) {
	r := NewRegistry(nil)
	id := infomodel.NodeID{NamespaceURI: latheNS, ID: "s=Lathe"}
	require.NoError(t, r.Add(id, testInfo(id), &fakeClient{}))

	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()

	assert.ErrorContains(t, r.checkConsistency(), "has info but no client")
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry(nil)
	ids := make([]infomodel.NodeID, 16)
	for i := range ids {
		ids[i] = infomodel.NodeID{NamespaceURI: latheNS, ID: fmt.Sprintf("i=%d", i)}
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				id := ids[(w+n)%len(ids)]
				switch n % 3 {
				case 0:
					_ = r.Add(id, testInfo(id), &fakeClient{})
				case 1:
					r.Remove(id)
				default:
					for _, e := range r.Snapshot() {
						assert.NotNil(t, e.Client)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, r.checkConsistency())
	assert.Len(t, r.Keys(), r.Len())
}
