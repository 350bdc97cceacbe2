package observer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

// Prober decides whether a machine is online: it must expose an
// identification component whose children yield at least one readable value.
type Prober struct {
	source infomodel.Client
	logger *zap.Logger
}

func NewProber(source infomodel.Client, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{source: source, logger: logger}
}

// IsOnline reports whether machine has a requiredType component with at
// least one readable child value.
func (p *Prober) IsOnline(ctx context.Context, machine, requiredType infomodel.NodeID) bool {
	values, err := p.IdentificationValues(ctx, machine, requiredType)
	if err != nil {
		p.logger.Debug("machine not online", zap.Stringer("node_id", machine), zap.Error(err))
		return false
	}
	return len(values) > 0
}

// IdentificationValues browses the first requiredType component of machine
// and returns the readable values of its children keyed by browse name.
// Additional identification components are ignored.
func (p *Prober) IdentificationValues(ctx context.Context, machine, requiredType infomodel.NodeID) (map[string]any, error) {
	identification, err := p.source.Browse(ctx, machine, infomodel.HasComponent, requiredType)
	if err != nil {
		return nil, err
	}
	if len(identification) == 0 {
		return nil, fmt.Errorf("%s: %w", machine, ErrNoIdentification)
	}

	children, err := p.source.BrowseChildren(ctx, identification[0].NodeID, infomodel.FullHierarchy)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(children))
	if len(children) == 0 {
		return values, nil
	}
	ids := make([]infomodel.NodeID, len(children))
	for i, c := range children {
		ids[i] = c.NodeID
	}
	read, err := p.source.ReadValues(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i, v := range read {
		if i < len(children) && v.OK() {
			values[children[i].BrowseName.Name] = v.Value
		}
	}
	return values, nil
}
