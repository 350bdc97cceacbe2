// Package observer keeps track of the machines that are online in the
// information model and drives their publication.
//
// An Observer owns the online registry, a polling loop that triggers
// discovery every DiscoveryEvery ticks, and the publish-all cycle that asks
// every machine client to publish and, every ListEvery calls, publishes the
// aggregate machine list.
package observer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/dashboard"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/storage"
)

const tracerName = "github.com/devghori1264/aerophoenix/machine-bridge/internal/observer"

// Publisher is the broker capability shared by the observer and every
// machine client.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// DataSetClient is a PublishingClient that can bind a machine's data set.
type DataSetClient interface {
	PublishingClient
	AddDataSet(ctx context.Context, start infomodel.NodeID, typ *infomodel.StructureNode, topic string) error
}

// ClientFactory creates the client of a newly discovered machine.
type ClientFactory func() DataSetClient

// Config holds the observer's cadence, topics and type names.
type Config struct {
	// Site is the grouping tag every machine is listed under.
	Site string
	// MachineTypeName names the type definition bound as data set.
	MachineTypeName string
	// MachineType filters discovery; zero accepts any type.
	MachineType infomodel.NodeID
	// IdentificationType is the component type probed for online status.
	IdentificationType infomodel.NodeID
	// MachinesFolder is browsed for machines by discovery.
	MachinesFolder infomodel.NodeID

	DataSetTopicPrefix string
	MachineListTopic   string

	TickInterval   time.Duration
	DiscoveryEvery int
	ListEvery      uint64
}

// DefaultConfig returns the reference cadence: a one second tick,
// discovery every ten ticks, the machine list every fifth publish.
func DefaultConfig() Config {
	return Config{
		Site:               "offsite",
		MachineTypeName:    infomodel.MachineToolTypeName,
		MachineType:        infomodel.MachineToolType,
		IdentificationType: infomodel.MachineToolIdentificationType,
		MachinesFolder:     infomodel.MachinesFolder,
		DataSetTopicPrefix: "/umati/emo/dataSetOfMachineTopic",
		MachineListTopic:   "/umati/emo/machineList",
		TickInterval:       time.Second,
		DiscoveryEvery:     10,
		ListEvery:          5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Site == "" {
		c.Site = d.Site
	}
	if c.MachineTypeName == "" {
		c.MachineTypeName = d.MachineTypeName
	}
	if c.IdentificationType.IsZero() {
		c.IdentificationType = d.IdentificationType
	}
	if c.MachinesFolder.IsZero() {
		c.MachinesFolder = d.MachinesFolder
	}
	if c.DataSetTopicPrefix == "" {
		c.DataSetTopicPrefix = d.DataSetTopicPrefix
	}
	if c.MachineListTopic == "" {
		c.MachineListTopic = d.MachineListTopic
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.DiscoveryEvery <= 0 {
		c.DiscoveryEvery = d.DiscoveryEvery
	}
	if c.ListEvery == 0 {
		c.ListEvery = d.ListEvery
	}
	return c
}

// Deps are the collaborators of an Observer. Source and Publisher are
// required; everything else has a default.
type Deps struct {
	Source    infomodel.Client
	Publisher Publisher

	// NewClient defaults to dashboard clients sharing Source and Publisher.
	NewClient ClientFactory
	// Discoverer defaults to a Discovery over Config.MachinesFolder.
	Discoverer Discoverer
	// Store, when set, records machine history.
	Store storage.Store

	Clock   clockwork.Clock
	Logger  *zap.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// Observer tracks online machines. Create it with New; it is safe for
// concurrent use.
type Observer struct {
	cfg        Config
	source     infomodel.Client
	publisher  Publisher
	newClient  ClientFactory
	discoverer Discoverer
	store      storage.Store
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *Metrics
	tracer     trace.Tracer

	registry *Registry
	prober   *Prober
	poller   *Poller

	// publishTicks counts PublishAll calls for the lifetime of the observer.
	publishTicks atomic.Uint64
}

// New creates an observer. The polling loop is not started.
func New(cfg Config, deps Deps) *Observer {
	cfg = cfg.withDefaults()
	o := &Observer{
		cfg:       cfg,
		source:    deps.Source,
		publisher: deps.Publisher,
		newClient: deps.NewClient,
		store:     deps.Store,
		clock:     deps.Clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.newClient == nil {
		o.newClient = func() DataSetClient {
			return dashboard.NewClient(o.source, o.publisher, o.logger)
		}
	}
	o.registry = NewRegistry(o.logger.Named("registry"))
	o.prober = NewProber(o.source, o.logger.Named("prober"))

	o.discoverer = deps.Discoverer
	if o.discoverer == nil {
		o.discoverer = NewDiscovery(o.source, o, DiscoveryConfig{
			MachinesFolder: cfg.MachinesFolder,
			MachineType:    cfg.MachineType,
		}, o.clock, o.logger.Named("discovery"), o.metrics, o.tracer)
	}
	o.poller = NewPoller(o.clock, cfg.TickInterval, cfg.DiscoveryEvery, o.updateMachines, o.logger.Named("poller"))
	return o
}

func (o *Observer) updateMachines(ctx context.Context) {
	if err := o.discoverer.UpdateMachines(ctx); err != nil {
		o.logger.Warn("machine discovery failed", zap.Error(err))
	}
}

// Start launches the polling loop. It reports false if it was already
// running.
func (o *Observer) Start(ctx context.Context) bool {
	return o.poller.Start(ctx)
}

// Stop halts the polling loop and waits for it to exit.
func (o *Observer) Stop() {
	o.poller.Stop()
}

// Running reports whether the polling loop is active.
func (o *Observer) Running() bool {
	return o.poller.Running()
}

// IsOnline asks the prober whether machine is online right now.
func (o *Observer) IsOnline(ctx context.Context, machine infomodel.NodeID) bool {
	return o.prober.IsOnline(ctx, machine, o.cfg.IdentificationType)
}

// Known returns the ids of the registered machines.
func (o *Observer) Known() []infomodel.NodeID {
	return o.registry.Keys()
}

// Machines returns the metadata of the registered machines.
func (o *Observer) Machines() []MachineInfo {
	entries := o.registry.Snapshot()
	out := make([]MachineInfo, len(entries))
	for i, e := range entries {
		out[i] = e.Info
	}
	return out
}

// Len returns the number of registered machines.
func (o *Observer) Len() int {
	return o.registry.Len()
}
