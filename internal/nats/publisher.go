package natsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Online indicator payloads.
const (
	OnlinePayload  = "1"
	OfflinePayload = "0"
)

var ErrNotConnected = errors.New("nats not connected")

// Config configures the broker connection.
type Config struct {
	URL      string
	Name     string
	Username string
	Password string
	// OnlineTopic receives "1" on every (re)connect and "0" on Close.
	OnlineTopic string
	// StatusBucket, when set, names a JetStream key-value bucket that keeps
	// the last online indicator so late subscribers can read it.
	StatusBucket string
	ReconnectWait time.Duration
}

// Publisher publishes UTF-8 payloads to subjects and maintains the bridge's
// online indicator. It is safe for concurrent use.
type Publisher struct {
	cfg    Config
	logger *zap.Logger

	// mu guards nc and kv, which are set once the connection is ready.
	mu sync.RWMutex
	nc *nats.Conn
	kv jetstream.KeyValue
}

func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.Name == "" {
		cfg.Name = "machine-bridge"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{cfg: cfg, logger: logger}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(p.reconnected),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	var kv jetstream.KeyValue
	if cfg.StatusBucket != "" {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		kv, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.StatusBucket,
			Description: "machine-bridge online indicator",
			History:     1,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("status bucket %s: %w", cfg.StatusBucket, err)
		}
	}
	p.mu.Lock()
	p.nc, p.kv = nc, kv
	p.mu.Unlock()

	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	p.announce(ctx, OnlinePayload)
	return p, nil
}

func (p *Publisher) conn() (*nats.Conn, jetstream.KeyValue) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nc, p.kv
}

// reconnected re-announces the bridge as online. A reconnect that happens
// before NewPublisher has finished is skipped; NewPublisher announces itself.
func (p *Publisher) reconnected(nc *nats.Conn) {
	p.logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
	if c, _ := p.conn(); c == nil {
		p.logger.Debug("connection not ready, online indicator deferred")
		return
	}
	p.announce(context.Background(), OnlinePayload)
}

// announce publishes the online indicator. Failures are logged only.
func (p *Publisher) announce(ctx context.Context, payload string) {
	if p.cfg.OnlineTopic == "" {
		return
	}
	if err := p.Publish(ctx, p.cfg.OnlineTopic, []byte(payload)); err != nil {
		p.logger.Error("publish online indicator", zap.String("payload", payload), zap.Error(err))
	}
	_, kv := p.conn()
	if kv == nil {
		return
	}
	if _, err := kv.PutString(ctx, statusKey(p.cfg.OnlineTopic), payload); err != nil {
		p.logger.Error("store online indicator", zap.String("payload", payload), zap.Error(err))
	}
}

// statusKey maps a topic onto a valid key-value key.
func statusKey(topic string) string {
	key := []byte(topic)
	for i, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '=':
		case c == '/' && i > 0:
		default:
			key[i] = '_'
		}
	}
	return string(key)
}

// Publish sends payload to subject.
func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	nc, _ := p.conn()
	if nc == nil || nc.IsClosed() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nc.Publish(subject, payload)
}

// Connected reports whether the connection is currently usable.
func (p *Publisher) Connected() bool {
	nc, _ := p.conn()
	return nc != nil && nc.IsConnected()
}

// Close publishes the offline indicator and drains the connection.
func (p *Publisher) Close() {
	nc, _ := p.conn()
	if nc == nil || nc.IsClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.announce(ctx, OfflinePayload)
	if err := nc.Flush(); err != nil {
		p.logger.Warn("nats flush", zap.Error(err))
	}
	if err := nc.Drain(); err != nil {
		p.logger.Warn("nats drain", zap.Error(err))
		nc.Close()
	}
}
