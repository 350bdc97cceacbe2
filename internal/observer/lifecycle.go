package observer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/dashboard"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/models"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/storage"
)

// AddMachine binds a discovered machine and registers it. All browsing and
// type resolution happens before the registry is touched; on failure a
// *MachineInvalidError is returned and nothing is registered.
func (o *Observer) AddMachine(ctx context.Context, machine infomodel.BrowseResult) (err error) {
	ctx, span := o.tracer.Start(ctx, "observer.AddMachine", trace.WithAttributes(
		attribute.String("machine.node_id", machine.NodeID.String()),
		attribute.String("machine.name", machine.Name()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := o.logger.With(zap.String("machine", machine.Name()), zap.Stringer("node_id", machine.NodeID))
	log.Info("new machine")

	if o.registry.Contains(machine.NodeID) {
		log.Warn("machine already registered, rejecting")
		o.metrics.machineAdded("duplicate")
		return ErrAlreadyRegistered
	}

	info := MachineInfo{
		Name:         machine.Name(),
		NamespaceURI: machine.NodeID.NamespaceURI,
		StartNode:    machine.NodeID,
		Site:         o.cfg.Site,
	}
	client := o.newClient()

	components, err := o.bindMachine(ctx, machine, client)
	if err != nil {
		kind := classify(err)
		log.Error("could not add machine", zap.Stringer("kind", kind), zap.Error(err))
		o.metrics.machineAdded(kind.String())
		return &MachineInvalidError{ID: machine.NodeID, Name: machine.Name(), Kind: kind, Err: err}
	}

	if err := o.registry.Add(machine.NodeID, info, client); err != nil {
		o.metrics.machineAdded("duplicate")
		return err
	}
	o.metrics.machineAdded("ok")
	o.metrics.setOnline(o.registry.Len())
	o.record(ctx, info, models.StatusOnline)

	log.Info("machine ready", zap.Int("components", components), zap.String("site", info.Site))
	return nil
}

// bindMachine resolves the machine subtree and type definition and binds the
// data set on client. It returns the number of components found.
func (o *Observer) bindMachine(ctx context.Context, machine infomodel.BrowseResult, client DataSetClient) (int, error) {
	nsIndex, err := o.source.NamespaceIndex(machine.NodeID.NamespaceURI)
	if err != nil {
		return 0, err
	}
	components, err := o.source.BrowseChildren(ctx, machine.NodeID, infomodel.FullHierarchy)
	if err != nil {
		return 0, err
	}
	typ, err := o.source.LookupType(o.cfg.MachineTypeName)
	if err != nil {
		return 0, err
	}
	topic := dashboard.Topic(o.cfg.DataSetTopicPrefix, machine.NodeID)
	if err := client.AddDataSet(ctx, machine.NodeID, typ, topic); err != nil {
		return 0, fmt.Errorf("bind data set: %w", err)
	}
	o.logger.Debug("machine model read",
		zap.Stringer("node_id", machine.NodeID),
		zap.Uint16("namespace_index", nsIndex),
		zap.String("topic", topic))
	return len(components), nil
}

// RemoveMachine unregisters a machine. It reports whether the machine was
// registered; removing an unknown machine is not an error. Only the node id
// of machine is required, the name is taken from the registry.
func (o *Observer) RemoveMachine(ctx context.Context, machine infomodel.BrowseResult) bool {
	entry, ok := o.registry.Remove(machine.NodeID)
	if !ok {
		o.logger.Debug("remove unknown machine", zap.Stringer("node_id", machine.NodeID))
		return false
	}
	o.logger.Info("remove machine", zap.String("machine", entry.Info.Name), zap.Stringer("node_id", machine.NodeID))
	o.metrics.machineRemoved()
	o.metrics.setOnline(o.registry.Len())
	o.record(ctx, entry.Info, models.StatusRemoved)
	return true
}

// record writes the machine history. Failures are logged only.
func (o *Observer) record(ctx context.Context, info MachineInfo, status string) {
	if o.store == nil {
		return
	}
	id := info.StartNode.String()
	log := o.logger.With(zap.String("node_id", id))

	rec, err := o.store.GetMachine(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = &models.MachineRecord{ID: id}
	case err != nil:
		log.Warn("load machine record", zap.Error(err))
		return
	}

	now := o.clock.Now().UTC()
	rec.Name = info.Name
	rec.NamespaceURI = info.NamespaceURI
	rec.Site = info.Site
	rec.Status = status
	rec.UpdatedAt = now
	rec.Version++
	switch status {
	case models.StatusOnline:
		rec.OnlineSince = now
		rec.RemovedAt = nil
	case models.StatusRemoved:
		rec.RemovedAt = &now
	}
	if err := o.store.SaveMachine(ctx, rec); err != nil {
		log.Warn("save machine record", zap.Error(err))
	}
}
