package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, SourceSim, cfg.Source.Mode)
	assert.Equal(t, "offsite", cfg.Observer.Site)
	assert.Equal(t, infomodel.MachinesFolder, cfg.Observer.MachinesFolder)
	assert.Equal(t, 10, cfg.Observer.DiscoveryEvery)
	assert.Equal(t, uint64(5), cfg.Observer.ListEvery)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  mode: opcua
  endpoint: opc.tcp://plc:4840
broker:
  url: nats://broker:4222
  statusBucket: bridge_status
observer:
  site: hall-7
  machinesFolder: nsu=http://example.com/plant/;s=Machines
  tickInterval: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceOPCUA, cfg.Source.Mode)
	assert.Equal(t, "opc.tcp://plc:4840", cfg.OPCUAConfig().Endpoint)
	assert.Equal(t, time.Minute, cfg.OPCUAConfig().ConnectTimeout, "unset keys keep defaults")

	pc := cfg.PublisherConfig()
	assert.Equal(t, "nats://broker:4222", pc.URL)
	assert.Equal(t, "bridge_status", pc.StatusBucket)
	assert.Equal(t, "/umati/emo/bridge/online", pc.OnlineTopic)

	oc := cfg.ObserverConfig()
	assert.Equal(t, "hall-7", oc.Site)
	assert.Equal(t, infomodel.NodeID{NamespaceURI: "http://example.com/plant/", ID: "s=Machines"}, oc.MachinesFolder)
	assert.Equal(t, 250*time.Millisecond, oc.TickInterval)
	assert.Equal(t, uint64(5), oc.ListEvery)
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load("../../configs/bridge.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "machine_bridge_status", cfg.Broker.StatusBucket)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "observer:\n  sites: [a]\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Source.Mode = "modbus"
	cfg.Broker.URL = ""
	cfg.Observer.ListEvery = 0
	cfg.Observer.PublishInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"source.mode", "broker.url", "observer.listEvery", "observer.publishInterval"} {
		assert.ErrorContains(t, err, want)
	}

	cfg = Default()
	cfg.Source.Mode = SourceOPCUA
	assert.ErrorContains(t, cfg.Validate(), "source.endpoint")
}
