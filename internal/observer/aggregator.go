package observer

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/models"
)

// PublishAll asks every registered machine to publish its telemetry. Every
// ListEvery-th call also publishes the aggregate machine list. A failing
// machine is logged and skipped.
func (o *Observer) PublishAll(ctx context.Context) {
	for _, e := range o.registry.Snapshot() {
		err := e.Client.Publish(ctx)
		o.metrics.published(err)
		if err != nil {
			o.logger.Warn("publish machine",
				zap.String("machine", e.Info.Name),
				zap.Stringer("node_id", e.ID),
				zap.Error(err))
		}
	}

	if o.publishTicks.Add(1)%o.cfg.ListEvery == 0 {
		o.publishMachineList(ctx)
	}
}

// machineList groups the registered machines by site.
func (o *Observer) machineList(ctx context.Context) map[string][]models.MachineListEntry {
	groups := make(map[string][]models.MachineListEntry)
	for _, e := range o.registry.Snapshot() {
		identification, err := o.prober.IdentificationValues(ctx, e.ID, o.cfg.IdentificationType)
		if err != nil {
			o.logger.Debug("machine identification", zap.Stringer("node_id", e.ID), zap.Error(err))
		}
		if identification == nil {
			identification = map[string]any{}
		}
		groups[e.Info.Site] = append(groups[e.Info.Site], models.MachineListEntry{
			NodeID:         e.ID.String(),
			NamespaceURI:   e.Info.NamespaceURI,
			Site:           e.Info.Site,
			Identification: identification,
		})
	}
	if len(groups) == 0 {
		groups[o.cfg.Site] = []models.MachineListEntry{}
	}
	return groups
}

func (o *Observer) publishMachineList(ctx context.Context) {
	groups := o.machineList(ctx)
	sites := make([]string, 0, len(groups))
	for site := range groups {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	for _, site := range sites {
		payload, err := json.Marshal(groups[site])
		if err != nil {
			o.logger.Error("encode machine list", zap.String("site", site), zap.Error(err))
			continue
		}
		if err := o.publisher.Publish(ctx, o.cfg.MachineListTopic, payload); err != nil {
			o.logger.Warn("publish machine list", zap.String("site", site), zap.Error(err))
			continue
		}
		o.metrics.machineListPublished()
		o.logger.Debug("machine list published", zap.String("site", site), zap.Int("machines", len(groups[site])))
	}
}
