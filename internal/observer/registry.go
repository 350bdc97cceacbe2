package observer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

// MachineInfo is the metadata kept for an online machine. It is read-only
// once registered.
type MachineInfo struct {
	Name         string           `json:"name"`
	NamespaceURI string           `json:"namespaceUri"`
	StartNode    infomodel.NodeID `json:"startNode"`
	Site         string           `json:"site"`
}

// PublishingClient publishes the telemetry of one machine.
type PublishingClient interface {
	Publish(ctx context.Context) error
}

// RegistryEntry is one machine of a registry snapshot. The entry keeps its
// own reference to the client, so removing the machine while a snapshot is
// in use never invalidates it.
type RegistryEntry struct {
	ID     infomodel.NodeID
	Info   MachineInfo
	Client PublishingClient
}

// Registry holds the online machines. The info and client maps are always
// mutated together under the write lock; nothing else runs while it is held.
type Registry struct {
	mu      sync.RWMutex
	infos   map[infomodel.NodeID]MachineInfo
	clients map[infomodel.NodeID]PublishingClient

	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		infos:   make(map[infomodel.NodeID]MachineInfo),
		clients: make(map[infomodel.NodeID]PublishingClient),
		logger:  logger,
	}
}

// Add registers a machine. Re-adding a registered id is rejected; callers
// must Remove first.
func (r *Registry) Add(id infomodel.NodeID, info MachineInfo, client PublishingClient) error {
	r.mu.Lock()
	_, hasInfo := r.infos[id]
	_, hasClient := r.clients[id]
	if !hasInfo && !hasClient {
		r.infos[id] = info
		r.clients[id] = client
	}
	r.mu.Unlock()

	if hasInfo || hasClient {
		r.logger.Warn("machine already registered, rejecting", zap.Stringer("node_id", id))
		return ErrAlreadyRegistered
	}
	return nil
}

// Remove unregisters a machine and returns its entry. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(id infomodel.NodeID) (RegistryEntry, bool) {
	r.mu.Lock()
	info, hasInfo := r.infos[id]
	client, hasClient := r.clients[id]
	delete(r.infos, id)
	delete(r.clients, id)
	r.mu.Unlock()

	if !hasInfo && !hasClient {
		r.logger.Info("machine not known", zap.Stringer("node_id", id))
		return RegistryEntry{}, false
	}
	return RegistryEntry{ID: id, Info: info, Client: client}, true
}

// Snapshot copies the registry, ordered by node id.
func (r *Registry) Snapshot() []RegistryEntry {
	r.mu.RLock()
	out := make([]RegistryEntry, 0, len(r.infos))
	for id, info := range r.infos {
		out = append(out, RegistryEntry{ID: id, Info: info, Client: r.clients[id]})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Keys returns the registered ids, ordered.
func (r *Registry) Keys() []infomodel.NodeID {
	r.mu.RLock()
	out := make([]infomodel.NodeID, 0, len(r.infos))
	for id := range r.infos {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (r *Registry) Contains(id infomodel.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.infos[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.infos)
}

// checkConsistency reports ids present in only one of the two maps.
func (r *Registry) checkConsistency() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.infos {
		if _, ok := r.clients[id]; !ok {
			return fmt.Errorf("machine %s has info but no client", id)
		}
	}
	for id := range r.clients {
		if _, ok := r.infos[id]; !ok {
			return fmt.Errorf("machine %s has client but no info", id)
		}
	}
	return nil
}
