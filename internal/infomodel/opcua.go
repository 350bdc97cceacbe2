package infomodel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"
)

// OPCUAConfig configures the connection to an OPC UA server.
type OPCUAConfig struct {
	Endpoint       string
	Username       string
	Password       string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// OPCUAClient implements Client on top of an OPC UA session. The namespace
// array is read once after connecting and cached.
type OPCUAClient struct {
	c      *opcua.Client
	types  *TypeMap
	logger *zap.Logger

	mu         sync.RWMutex
	namespaces []string
}

// DialOPCUA connects to the endpoint, retrying with exponential backoff until
// cfg.ConnectTimeout elapses, and caches the namespace array.
func DialOPCUA(ctx context.Context, cfg OPCUAConfig, types *TypeMap, logger *zap.Logger) (*OPCUAClient, error) {
	if types == nil {
		types = BuiltinTypes()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []opcua.Option{
		opcua.SecurityPolicy("None"),
		opcua.SecurityMode(ua.MessageSecurityModeNone),
		opcua.AutoReconnect(true),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, opcua.RequestTimeout(cfg.RequestTimeout))
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	c, err := opcua.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("opcua client: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	if cfg.ConnectTimeout > 0 {
		b.MaxElapsedTime = cfg.ConnectTimeout
	}
	connect := func() error {
		if err := c.Connect(ctx); err != nil {
			logger.Warn("opcua connect failed", zap.String("endpoint", cfg.Endpoint), zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint, err)
	}

	client := &OPCUAClient{c: c, types: types, logger: logger}
	if err := client.RefreshNamespaces(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	logger.Info("opcua connected", zap.String("endpoint", cfg.Endpoint), zap.Int("namespaces", len(client.namespaces)))
	return client, nil
}

// RefreshNamespaces re-reads the server namespace array into the cache.
func (o *OPCUAClient) RefreshNamespaces(ctx context.Context) error {
	ns, err := o.c.NamespaceArray(ctx)
	if err != nil {
		return protocolErr("namespace array", NodeID{}, err)
	}
	o.mu.Lock()
	o.namespaces = ns
	o.mu.Unlock()
	return nil
}

// Close ends the session.
func (o *OPCUAClient) Close(ctx context.Context) error {
	return o.c.Close(ctx)
}

// NamespaceIndex implements Client.
func (o *OPCUAClient) NamespaceIndex(uri string) (uint16, error) {
	if uri == "" || uri == NamespaceUA {
		return 0, nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for i, ns := range o.namespaces {
		if ns == uri {
			return uint16(i), nil
		}
	}
	return 0, protocolErr("namespace index", NodeID{}, fmt.Errorf("%w: %s", ErrUnknownNamespace, uri))
}

func (o *OPCUAClient) namespaceURI(idx uint16) string {
	if idx == 0 {
		return ""
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if int(idx) < len(o.namespaces) {
		return o.namespaces[idx]
	}
	return fmt.Sprintf("urn:unknown-namespace:%d", idx)
}

func (o *OPCUAClient) toUA(id NodeID) (*ua.NodeID, error) {
	idx, err := o.NamespaceIndex(id.NamespaceURI)
	if err != nil {
		return nil, err
	}
	n, err := ua.ParseNodeID(fmt.Sprintf("ns=%d;%s", idx, id.ID))
	if err != nil {
		return nil, protocolErr("parse node id", id, err)
	}
	return n, nil
}

func (o *OPCUAClient) fromUA(n *ua.NodeID) NodeID {
	if n == nil {
		return NodeID{}
	}
	local := n.String()
	if strings.HasPrefix(local, "ns=") {
		if i := strings.Index(local, ";"); i >= 0 {
			local = local[i+1:]
		}
	}
	return NewNodeID(o.namespaceURI(n.Namespace()), local)
}

func (o *OPCUAClient) fromExpanded(n *ua.ExpandedNodeID) NodeID {
	if n == nil || n.NodeID == nil {
		return NodeID{}
	}
	id := o.fromUA(n.NodeID)
	if n.NamespaceURI != "" {
		id = NewNodeID(n.NamespaceURI, id.ID)
	}
	return id
}

func (o *OPCUAClient) browse(ctx context.Context, op string, start NodeID, ref NodeID, includeSubtypes bool, mask NodeClass) ([]*ua.ReferenceDescription, error) {
	startID, err := o.toUA(start)
	if err != nil {
		return nil, err
	}
	refID, err := o.toUA(ref)
	if err != nil {
		return nil, err
	}
	req := &ua.BrowseRequest{
		View: &ua.ViewDescription{ViewID: ua.NewTwoByteNodeID(0)},
		NodesToBrowse: []*ua.BrowseDescription{{
			NodeID:          startID,
			BrowseDirection: ua.BrowseDirectionForward,
			ReferenceTypeID: refID,
			IncludeSubtypes: includeSubtypes,
			NodeClassMask:   uint32(mask),
			ResultMask:      uint32(ua.BrowseResultMaskAll),
		}},
	}
	resp, err := o.c.Browse(ctx, req)
	if err != nil {
		return nil, protocolErr(op, start, err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	res := resp.Results[0]
	if res.StatusCode != ua.StatusOK {
		return nil, protocolErr(op, start, res.StatusCode)
	}
	refs := res.References
	cp := res.ContinuationPoint
	for len(cp) > 0 {
		next, err := o.c.BrowseNext(ctx, &ua.BrowseNextRequest{ContinuationPoints: [][]byte{cp}})
		if err != nil {
			return nil, protocolErr(op, start, err)
		}
		if len(next.Results) == 0 || next.Results[0].StatusCode != ua.StatusOK {
			break
		}
		refs = append(refs, next.Results[0].References...)
		cp = next.Results[0].ContinuationPoint
	}
	return refs, nil
}

func (o *OPCUAClient) toResult(r *ua.ReferenceDescription) BrowseResult {
	res := BrowseResult{
		NodeClass:       NodeClass(r.NodeClass),
		NodeID:          o.fromExpanded(r.NodeID),
		TypeDefinition:  o.fromExpanded(r.TypeDefinition),
		ReferenceTypeID: o.fromUA(r.ReferenceTypeID),
	}
	if r.BrowseName != nil {
		res.BrowseName = QualifiedName{NamespaceURI: o.namespaceURI(r.BrowseName.NamespaceIndex), Name: r.BrowseName.Name}
	}
	if r.DisplayName != nil {
		res.DisplayName = r.DisplayName.Text
	}
	return res
}

// Browse implements Client.
func (o *OPCUAClient) Browse(ctx context.Context, start, referenceType, typeDefinition NodeID) ([]BrowseResult, error) {
	refs, err := o.browse(ctx, "browse", start, referenceType, true, NodeClassAll)
	if err != nil {
		return nil, err
	}
	var out []BrowseResult
	for _, r := range refs {
		res := o.toResult(r)
		if !typeDefinition.IsZero() && res.TypeDefinition != typeDefinition {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// BrowseChildren implements Client.
func (o *OPCUAClient) BrowseChildren(ctx context.Context, start NodeID, opts BrowseOptions) ([]BrowseResult, error) {
	ref := opts.ReferenceType
	if ref.IsZero() {
		ref = HierarchicalReferences
	}
	refs, err := o.browse(ctx, "browse children", start, ref, opts.IncludeSubtypes, opts.NodeClassMask)
	if err != nil {
		return nil, err
	}
	out := make([]BrowseResult, 0, len(refs))
	for _, r := range refs {
		out = append(out, o.toResult(r))
	}
	return out, nil
}

// TranslateBrowsePath implements Client.
func (o *OPCUAClient) TranslateBrowsePath(ctx context.Context, start NodeID, name QualifiedName) (NodeID, error) {
	startID, err := o.toUA(start)
	if err != nil {
		return NodeID{}, err
	}
	idx, err := o.NamespaceIndex(name.NamespaceURI)
	if err != nil {
		return NodeID{}, err
	}
	id, err := o.c.Node(startID).TranslateBrowsePathInNamespaceToNodeID(ctx, idx, name.Name)
	if err != nil {
		return NodeID{}, protocolErr("translate browse path", start, fmt.Errorf("%s: %w", name, err))
	}
	return o.fromUA(id), nil
}

// ReadValues implements Client.
func (o *OPCUAClient) ReadValues(ctx context.Context, ids []NodeID) ([]DataValue, error) {
	out := make([]DataValue, len(ids))
	nodes := make([]*ua.ReadValueID, 0, len(ids))
	index := make([]int, 0, len(ids))
	for i, id := range ids {
		out[i].NodeID = id
		n, err := o.toUA(id)
		if err != nil {
			out[i].Err = err
			continue
		}
		nodes = append(nodes, &ua.ReadValueID{NodeID: n, AttributeID: ua.AttributeIDValue})
		index = append(index, i)
	}
	if len(nodes) == 0 {
		return out, nil
	}
	resp, err := o.c.Read(ctx, &ua.ReadRequest{
		MaxAge:             2000,
		NodesToRead:        nodes,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return nil, protocolErr("read", NodeID{}, err)
	}
	for j, dv := range resp.Results {
		if j >= len(index) {
			break
		}
		i := index[j]
		switch {
		case dv.Status != ua.StatusOK:
			out[i].Err = fmt.Errorf("%w: %v", ErrBadValue, dv.Status)
		case dv.Value == nil:
			out[i].Err = ErrBadValue
		default:
			out[i].Value = dv.Value.Value()
		}
	}
	return out, nil
}

// LookupType implements Client.
func (o *OPCUAClient) LookupType(name string) (*StructureNode, error) {
	n, err := o.types.Lookup(name)
	if err != nil {
		return nil, protocolErr("lookup type", NodeID{}, err)
	}
	return n, nil
}

var _ Client = (*OPCUAClient)(nil)
