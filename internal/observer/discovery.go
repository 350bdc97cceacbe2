package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

// Discoverer diffs the information model against the registry and adds or
// removes machines accordingly.
type Discoverer interface {
	UpdateMachines(ctx context.Context) error
}

// MachineSet is what a Discovery drives. *Observer implements it.
type MachineSet interface {
	Known() []infomodel.NodeID
	IsOnline(ctx context.Context, machine infomodel.NodeID) bool
	AddMachine(ctx context.Context, machine infomodel.BrowseResult) error
	RemoveMachine(ctx context.Context, machine infomodel.BrowseResult) bool
}

type DiscoveryConfig struct {
	MachinesFolder infomodel.NodeID
	// MachineType filters the folder; zero accepts every child.
	MachineType infomodel.NodeID
}

// Discovery finds machines organized below a folder. Unknown machines that
// are online are added, registered machines that left the folder are
// removed. Machines rejected permanently are skipped until they leave.
type Discovery struct {
	source   infomodel.Client
	machines MachineSet
	cfg      DiscoveryConfig
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	mu      sync.Mutex
	invalid map[infomodel.NodeID]struct{}
}

func NewDiscovery(source infomodel.Client, machines MachineSet, cfg DiscoveryConfig, clk clockwork.Clock, logger *zap.Logger, metrics *Metrics, tracer trace.Tracer) *Discovery {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	return &Discovery{
		source:   source,
		machines: machines,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		invalid:  make(map[infomodel.NodeID]struct{}),
	}
}

// UpdateMachines runs one discovery cycle. Cycles are serialized. A failed
// folder browse leaves the registry untouched.
func (d *Discovery) UpdateMachines(ctx context.Context) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := d.clock.Now()
	ctx, span := d.tracer.Start(ctx, "observer.UpdateMachines",
		trace.WithAttributes(attribute.String("folder", d.cfg.MachinesFolder.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		d.metrics.discovered(d.clock.Since(start), err)
	}()

	candidates, err := d.source.Browse(ctx, d.cfg.MachinesFolder, infomodel.Organizes, d.cfg.MachineType)
	if err != nil {
		return fmt.Errorf("browse machines folder: %w", err)
	}
	present := make(map[infomodel.NodeID]struct{}, len(candidates))
	for _, c := range candidates {
		present[c.NodeID] = struct{}{}
	}

	known := make(map[infomodel.NodeID]struct{})
	removed := 0
	for _, id := range d.machines.Known() {
		if _, ok := present[id]; ok {
			known[id] = struct{}{}
			continue
		}
		if d.machines.RemoveMachine(ctx, infomodel.BrowseResult{NodeID: id}) {
			removed++
		}
	}
	for id := range d.invalid {
		if _, ok := present[id]; !ok {
			delete(d.invalid, id)
		}
	}

	added := 0
	for _, c := range candidates {
		if _, ok := known[c.NodeID]; ok {
			continue
		}
		if _, ok := d.invalid[c.NodeID]; ok {
			continue
		}
		if !d.machines.IsOnline(ctx, c.NodeID) {
			d.logger.Debug("machine offline, skipping", zap.String("machine", c.Name()), zap.Stringer("node_id", c.NodeID))
			continue
		}
		err := d.machines.AddMachine(ctx, c)
		switch {
		case err == nil:
			added++
		case IsPermanent(err):
			d.invalid[c.NodeID] = struct{}{}
			d.logger.Warn("machine invalid, ignoring until it leaves", zap.Stringer("node_id", c.NodeID), zap.Error(err))
		case errors.Is(err, ErrAlreadyRegistered):
		default:
			d.logger.Info("machine invalid, retrying next cycle", zap.Stringer("node_id", c.NodeID), zap.Error(err))
		}
	}

	span.SetAttributes(
		attribute.Int("machines.candidates", len(candidates)),
		attribute.Int("machines.added", added),
		attribute.Int("machines.removed", removed),
	)
	d.logger.Debug("discovery cycle",
		zap.Int("candidates", len(candidates)),
		zap.Int("added", added),
		zap.Int("removed", removed))
	return nil
}
