package observer

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

const (
	latheNS = "http://example.com/lathe/"
	millNS  = "http://example.com/mill/"
)

type message struct {
	topic   string
	payload string
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []message
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{topic: topic, payload: string(payload)})
	return nil
}

func (p *recordingPublisher) on(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

// fakeClient is a DataSetClient counting its publishes.
type fakeClient struct {
	publishes  atomic.Int32
	publishErr error
	addErr     error
	topic      string
}

func (c *fakeClient) Publish(context.Context) error {
	c.publishes.Add(1)
	return c.publishErr
}

func (c *fakeClient) AddDataSet(_ context.Context, _ infomodel.NodeID, _ *infomodel.StructureNode, topic string) error {
	c.topic = topic
	return c.addErr
}

func observedLogger() (*zap.Logger, *zapobserver.ObservedLogs) {
	core, logs := zapobserver.New(zapcore.DebugLevel)
	return zap.New(core), logs
}
