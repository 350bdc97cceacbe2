// Package dashboard implements the per-machine publishing client: it binds a
// machine's live nodes to a type definition and periodically publishes their
// values as one JSON document.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

// Publisher is the broker capability the client needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

var ErrNoDataSets = errors.New("no data sets registered")

// binding is one resolved node of a data set.
type binding struct {
	name     string
	node     infomodel.NodeID
	variable bool
	children []*binding
}

type dataSet struct {
	start infomodel.NodeID
	topic string
	root  *binding
	vars  []infomodel.NodeID
}

// Client owns the data set bindings of one machine.
type Client struct {
	id     string
	source infomodel.Client
	pub    Publisher
	logger *zap.Logger

	mu       sync.Mutex
	dataSets []*dataSet
}

func NewClient(source infomodel.Client, pub Publisher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Client{
		id:     id,
		source: source,
		pub:    pub,
		logger: logger.With(zap.String("dashboard_client", id)),
	}
}

// ID returns the instance id used in logs.
func (c *Client) ID() string { return c.id }

// Topic returns the data set topic of a machine below prefix.
func Topic(prefix string, machine infomodel.NodeID) string {
	return strings.TrimRight(prefix, "/") + "/" + url.QueryEscape(machine.String())
}

// AddDataSet resolves typ below start and binds the result to topic. A
// missing mandatory child fails the whole data set; optional children that
// do not exist are skipped.
func (c *Client) AddDataSet(ctx context.Context, start infomodel.NodeID, typ *infomodel.StructureNode, topic string) error {
	if typ == nil {
		return fmt.Errorf("add data set %s: nil type definition", start)
	}
	root := &binding{name: typ.BrowseName.Name, node: start}
	if err := c.resolve(ctx, root, typ); err != nil {
		return fmt.Errorf("add data set %s: %w", start, err)
	}
	ds := &dataSet{start: start, topic: topic, root: root}
	collectVariables(root, &ds.vars)

	c.mu.Lock()
	c.dataSets = append(c.dataSets, ds)
	c.mu.Unlock()

	c.logger.Debug("data set bound",
		zap.Stringer("node_id", start),
		zap.String("topic", topic),
		zap.Int("variables", len(ds.vars)))
	return nil
}

func (c *Client) resolve(ctx context.Context, parent *binding, typ *infomodel.StructureNode) error {
	for _, child := range typ.Children {
		id, err := c.source.TranslateBrowsePath(ctx, parent.node, child.BrowseName)
		if err != nil {
			if child.ModellingRule == infomodel.Optional {
				continue
			}
			return err
		}
		b := &binding{
			name:     child.BrowseName.Name,
			node:     id,
			variable: child.NodeClass == infomodel.NodeClassVariable,
		}
		if err := c.resolve(ctx, b, child); err != nil {
			return err
		}
		parent.children = append(parent.children, b)
	}
	return nil
}

func collectVariables(b *binding, out *[]infomodel.NodeID) {
	if b.variable {
		*out = append(*out, b.node)
	}
	for _, child := range b.children {
		collectVariables(child, out)
	}
}

// Publish reads every bound variable and publishes one document per data
// set. Errors of individual data sets are joined.
func (c *Client) Publish(ctx context.Context) error {
	c.mu.Lock()
	sets := append([]*dataSet(nil), c.dataSets...)
	c.mu.Unlock()
	if len(sets) == 0 {
		return ErrNoDataSets
	}

	var errs []error
	for _, ds := range sets {
		if err := c.publishDataSet(ctx, ds); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) publishDataSet(ctx context.Context, ds *dataSet) error {
	values, err := c.source.ReadValues(ctx, ds.vars)
	if err != nil {
		return fmt.Errorf("read %s: %w", ds.start, err)
	}
	byNode := make(map[infomodel.NodeID]any, len(values))
	for _, v := range values {
		if v.OK() {
			byNode[v.NodeID] = v.Value
		}
	}
	payload, err := json.Marshal(render(ds.root, byNode))
	if err != nil {
		return fmt.Errorf("encode %s: %w", ds.start, err)
	}
	if err := c.pub.Publish(ctx, ds.topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", ds.topic, err)
	}
	return nil
}

// render turns a binding tree into nested maps keyed by browse name.
// Variables that could not be read are omitted.
func render(b *binding, values map[infomodel.NodeID]any) map[string]any {
	out := make(map[string]any, len(b.children))
	for _, child := range b.children {
		if child.variable {
			if v, ok := values[child.node]; ok {
				out[child.name] = v
			}
			continue
		}
		out[child.name] = render(child, values)
	}
	return out
}
