// Package config loads the bridge configuration from YAML. Values missing
// from the file keep their defaults; flags override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	natsclient "github.com/devghori1264/aerophoenix/machine-bridge/internal/nats"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/observer"
)

// Source modes.
const (
	SourceSim   = "sim"
	SourceOPCUA = "opcua"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Source   SourceConfig   `yaml:"source"`
	Broker   BrokerConfig   `yaml:"broker"`
	Observer ObserverConfig `yaml:"observer"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SourceConfig struct {
	Mode           string        `yaml:"mode"`
	SimFile        string        `yaml:"simFile"`
	Endpoint       string        `yaml:"endpoint"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

type BrokerConfig struct {
	URL          string `yaml:"url"`
	Name         string `yaml:"name"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	OnlineTopic  string `yaml:"onlineTopic"`
	StatusBucket string `yaml:"statusBucket"`
}

type ObserverConfig struct {
	Site               string           `yaml:"site"`
	MachineTypeName    string           `yaml:"machineTypeName"`
	MachineType        infomodel.NodeID `yaml:"machineType"`
	IdentificationType infomodel.NodeID `yaml:"identificationType"`
	MachinesFolder     infomodel.NodeID `yaml:"machinesFolder"`
	DataSetTopicPrefix string           `yaml:"dataSetTopicPrefix"`
	MachineListTopic   string           `yaml:"machineListTopic"`
	TickInterval       time.Duration    `yaml:"tickInterval"`
	DiscoveryEvery     int              `yaml:"discoveryEvery"`
	ListEvery          uint64           `yaml:"listEvery"`
	// PublishInterval is the cadence of the publish-all cycle.
	PublishInterval time.Duration `yaml:"publishInterval"`
}

type StorageConfig struct {
	// Path of the badger database; empty keeps history in memory.
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

type ServerConfig struct {
	HTTPAddr    string `yaml:"httpAddr"`
	GRPCAddr    string `yaml:"grpcAddr"`
	MetricsAddr string `yaml:"metricsAddr"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	Pretty  bool `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	obs := observer.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Source: SourceConfig{
			Mode:           SourceSim,
			SimFile:        "configs/sim-addressspace.yaml",
			RequestTimeout: 10 * time.Second,
			ConnectTimeout: time.Minute,
		},
		Broker: BrokerConfig{
			URL:         "nats://localhost:4222",
			Name:        "machine-bridge",
			OnlineTopic: "/umati/emo/bridge/online",
		},
		Observer: ObserverConfig{
			Site:               obs.Site,
			MachineTypeName:    obs.MachineTypeName,
			MachineType:        obs.MachineType,
			IdentificationType: obs.IdentificationType,
			MachinesFolder:     obs.MachinesFolder,
			DataSetTopicPrefix: obs.DataSetTopicPrefix,
			MachineListTopic:   obs.MachineListTopic,
			TickInterval:       obs.TickInterval,
			DiscoveryEvery:     obs.DiscoveryEvery,
			ListEvery:          obs.ListEvery,
			PublishInterval:    time.Second,
		},
		Storage: StorageConfig{Path: "./data/badger"},
		Server: ServerConfig{
			HTTPAddr:    ":8080",
			GRPCAddr:    ":50051",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Source.Mode {
	case SourceSim:
		if c.Source.SimFile == "" {
			errs = append(errs, errors.New("source.simFile is required in sim mode"))
		}
	case SourceOPCUA:
		if c.Source.Endpoint == "" {
			errs = append(errs, errors.New("source.endpoint is required in opcua mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.mode must be %q or %q, got %q", SourceSim, SourceOPCUA, c.Source.Mode))
	}
	if c.Broker.URL == "" {
		errs = append(errs, errors.New("broker.url is required"))
	}
	if c.Observer.TickInterval <= 0 {
		errs = append(errs, errors.New("observer.tickInterval must be positive"))
	}
	if c.Observer.PublishInterval <= 0 {
		errs = append(errs, errors.New("observer.publishInterval must be positive"))
	}
	if c.Observer.DiscoveryEvery <= 0 {
		errs = append(errs, errors.New("observer.discoveryEvery must be positive"))
	}
	if c.Observer.ListEvery == 0 {
		errs = append(errs, errors.New("observer.listEvery must be positive"))
	}
	if c.Observer.MachineListTopic == "" {
		errs = append(errs, errors.New("observer.machineListTopic is required"))
	}
	if c.Observer.MachinesFolder.IsZero() {
		errs = append(errs, errors.New("observer.machinesFolder is required"))
	}
	return errors.Join(errs...)
}

// ObserverConfig converts to the observer's configuration.
func (c Config) ObserverConfig() observer.Config {
	o := c.Observer
	return observer.Config{
		Site:               o.Site,
		MachineTypeName:    o.MachineTypeName,
		MachineType:        o.MachineType,
		IdentificationType: o.IdentificationType,
		MachinesFolder:     o.MachinesFolder,
		DataSetTopicPrefix: o.DataSetTopicPrefix,
		MachineListTopic:   o.MachineListTopic,
		TickInterval:       o.TickInterval,
		DiscoveryEvery:     o.DiscoveryEvery,
		ListEvery:          o.ListEvery,
	}
}

// PublisherConfig converts to the publisher's configuration.
func (c Config) PublisherConfig() natsclient.Config {
	b := c.Broker
	return natsclient.Config{
		URL:          b.URL,
		Name:         b.Name,
		Username:     b.Username,
		Password:     b.Password,
		OnlineTopic:  b.OnlineTopic,
		StatusBucket: b.StatusBucket,
	}
}

// OPCUAConfig converts to the OPC UA client configuration.
func (c Config) OPCUAConfig() infomodel.OPCUAConfig {
	s := c.Source
	return infomodel.OPCUAConfig{
		Endpoint:       s.Endpoint,
		Username:       s.Username,
		Password:       s.Password,
		RequestTimeout: s.RequestTimeout,
		ConnectTimeout: s.ConnectTimeout,
	}
}
