package infomodel

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type memRef struct {
	refType NodeID
	target  NodeID
}

type memNode struct {
	id          NodeID
	parent      NodeID
	browseName  QualifiedName
	displayName string
	class       NodeClass
	typeDef     NodeID
	value       any
	unreadable  bool
	refs        []memRef
}

// AddressSpace is an in-memory information model. It backs the simulator
// mode of the bridge and the tests. Nodes can be added and removed while
// clients browse it.
type AddressSpace struct {
	mu         sync.RWMutex
	namespaces []string
	nodes      map[NodeID]*memNode
	types      *TypeMap
}

// NewAddressSpace returns an address space holding only the Objects folder.
func NewAddressSpace(types *TypeMap) *AddressSpace {
	if types == nil {
		types = BuiltinTypes()
	}
	a := &AddressSpace{
		namespaces: []string{NamespaceUA},
		nodes:      make(map[NodeID]*memNode),
		types:      types,
	}
	a.nodes[ObjectsFolder] = &memNode{
		id:         ObjectsFolder,
		browseName: QualifiedName{Name: "Objects"},
		class:      NodeClassObject,
		typeDef:    FolderType,
	}
	return a
}

// NodeSpec describes a node to add to an AddressSpace. It doubles as the
// YAML schema of simulator files.
type NodeSpec struct {
	ID              NodeID    `yaml:"id"`
	Parent          NodeID    `yaml:"parent"`
	Reference       string    `yaml:"reference"`
	BrowseName      string    `yaml:"browseName"`
	BrowseNamespace string    `yaml:"browseNamespace"`
	DisplayName     string    `yaml:"displayName"`
	Class           NodeClass `yaml:"class"`
	Type            NodeID    `yaml:"type"`
	Value           any       `yaml:"value"`
	Unreadable      bool      `yaml:"unreadable"`
}

var referenceNames = map[string]NodeID{
	"":             HasComponent,
	"HasComponent": HasComponent,
	"HasProperty":  HasProperty,
	"Organizes":    Organizes,
}

// AddNamespace registers uri and returns its index.
func (a *AddressSpace) AddNamespace(uri string) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addNamespaceLocked(uri)
}

func (a *AddressSpace) addNamespaceLocked(uri string) uint16 {
	if uri == "" {
		return 0
	}
	for i, ns := range a.namespaces {
		if ns == uri {
			return uint16(i)
		}
	}
	a.namespaces = append(a.namespaces, uri)
	return uint16(len(a.namespaces) - 1)
}

// AddNode inserts a node below its parent. The parent must exist.
func (a *AddressSpace) AddNode(spec NodeSpec) error {
	if spec.ID.IsZero() {
		return fmt.Errorf("add node: missing id")
	}
	ref, ok := referenceNames[spec.Reference]
	if !ok {
		parsed, err := ParseNodeID(spec.Reference)
		if err != nil {
			return fmt.Errorf("add node %s: reference: %w", spec.ID, err)
		}
		ref = parsed
	}
	parent := spec.Parent
	if parent.IsZero() {
		parent = ObjectsFolder
	}
	class := spec.Class
	if class == NodeClassUnspecified {
		class = NodeClassObject
		if spec.Value != nil {
			class = NodeClassVariable
		}
	}
	typeDef := spec.Type
	if typeDef.IsZero() {
		typeDef = BaseObjectType
		if class == NodeClassVariable {
			typeDef = BaseDataVariableType
		}
	}
	name := spec.BrowseName
	if name == "" {
		name = spec.ID.ID
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.nodes[parent]
	if !ok {
		return fmt.Errorf("add node %s: parent %s: %w", spec.ID, parent, ErrNodeNotFound)
	}
	if _, exists := a.nodes[spec.ID]; exists {
		return fmt.Errorf("add node %s: already exists", spec.ID)
	}
	a.addNamespaceLocked(spec.ID.NamespaceURI)
	a.nodes[spec.ID] = &memNode{
		id:          spec.ID,
		parent:      parent,
		browseName:  QualifiedName{NamespaceURI: spec.BrowseNamespace, Name: name},
		displayName: spec.DisplayName,
		class:       class,
		typeDef:     typeDef,
		value:       spec.Value,
		unreadable:  spec.Unreadable,
	}
	p.refs = append(p.refs, memRef{refType: ref, target: spec.ID})
	return nil
}

// RemoveNode deletes id and everything below it.
func (a *AddressSpace) RemoveNode(id NodeID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("remove node %s: %w", id, ErrNodeNotFound)
	}
	if p, ok := a.nodes[n.parent]; ok {
		refs := p.refs[:0]
		for _, r := range p.refs {
			if r.target != id {
				refs = append(refs, r)
			}
		}
		p.refs = refs
	}
	a.removeSubtreeLocked(n)
	return nil
}

func (a *AddressSpace) removeSubtreeLocked(n *memNode) {
	for _, r := range n.refs {
		if child, ok := a.nodes[r.target]; ok && child.parent == n.id {
			a.removeSubtreeLocked(child)
		}
	}
	delete(a.nodes, n.id)
}

// SetValue replaces the value of a variable node.
func (a *AddressSpace) SetValue(id NodeID, v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("set value %s: %w", id, ErrNodeNotFound)
	}
	n.value = v
	return nil
}

// SetReadable toggles whether reads of id succeed.
func (a *AddressSpace) SetReadable(id NodeID, readable bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("set readable %s: %w", id, ErrNodeNotFound)
	}
	n.unreadable = !readable
	return nil
}

func (a *AddressSpace) lookupLocked(op string, id NodeID) (*memNode, error) {
	if id.NamespaceURI != "" && !a.hasNamespaceLocked(id.NamespaceURI) {
		return nil, protocolErr(op, id, ErrUnknownNamespace)
	}
	n, ok := a.nodes[id]
	if !ok {
		return nil, protocolErr(op, id, ErrNodeNotFound)
	}
	return n, nil
}

func (a *AddressSpace) hasNamespaceLocked(uri string) bool {
	for _, ns := range a.namespaces {
		if ns == uri {
			return true
		}
	}
	return false
}

func (a *AddressSpace) resultLocked(r memRef) (BrowseResult, bool) {
	target, ok := a.nodes[r.target]
	if !ok {
		return BrowseResult{}, false
	}
	return BrowseResult{
		NodeClass:       target.class,
		NodeID:          target.id,
		TypeDefinition:  target.typeDef,
		ReferenceTypeID: r.refType,
		BrowseName:      target.browseName,
		DisplayName:     target.displayName,
	}, true
}

func referenceMatches(want, got NodeID, includeSubtypes bool) bool {
	if want == got {
		return true
	}
	return includeSubtypes && want == HierarchicalReferences && IsHierarchical(got)
}

// Browse implements Client.
func (a *AddressSpace) Browse(ctx context.Context, start, referenceType, typeDefinition NodeID) ([]BrowseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocolErr("browse", start, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, err := a.lookupLocked("browse", start)
	if err != nil {
		return nil, err
	}
	var out []BrowseResult
	for _, r := range n.refs {
		if !referenceMatches(referenceType, r.refType, true) {
			continue
		}
		res, ok := a.resultLocked(r)
		if !ok {
			continue
		}
		if !typeDefinition.IsZero() && res.TypeDefinition != typeDefinition {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// BrowseChildren implements Client.
func (a *AddressSpace) BrowseChildren(ctx context.Context, start NodeID, opts BrowseOptions) ([]BrowseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocolErr("browse children", start, err)
	}
	ref := opts.ReferenceType
	if ref.IsZero() {
		ref = HierarchicalReferences
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, err := a.lookupLocked("browse children", start)
	if err != nil {
		return nil, err
	}
	var out []BrowseResult
	for _, r := range n.refs {
		if !referenceMatches(ref, r.refType, opts.IncludeSubtypes || ref == HierarchicalReferences) {
			continue
		}
		res, ok := a.resultLocked(r)
		if !ok {
			continue
		}
		if opts.NodeClassMask != NodeClassAll && res.NodeClass&opts.NodeClassMask == 0 {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// TranslateBrowsePath implements Client.
func (a *AddressSpace) TranslateBrowsePath(ctx context.Context, start NodeID, name QualifiedName) (NodeID, error) {
	if err := ctx.Err(); err != nil {
		return NodeID{}, protocolErr("translate browse path", start, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, err := a.lookupLocked("translate browse path", start)
	if err != nil {
		return NodeID{}, err
	}
	for _, r := range n.refs {
		if !IsHierarchical(r.refType) {
			continue
		}
		if child, ok := a.nodes[r.target]; ok && child.browseName.Matches(name) {
			return child.id, nil
		}
	}
	return NodeID{}, protocolErr("translate browse path", start, fmt.Errorf("%w: %s", ErrNodeNotFound, name))
}

// ReadValues implements Client.
func (a *AddressSpace) ReadValues(ctx context.Context, ids []NodeID) ([]DataValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocolErr("read", NodeID{}, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]DataValue, len(ids))
	for i, id := range ids {
		out[i].NodeID = id
		n, ok := a.nodes[id]
		switch {
		case !ok:
			out[i].Err = ErrNodeNotFound
		case n.unreadable || n.value == nil:
			out[i].Err = ErrBadValue
		default:
			out[i].Value = n.value
		}
	}
	return out, nil
}

// NamespaceIndex implements Client.
func (a *AddressSpace) NamespaceIndex(uri string) (uint16, error) {
	if uri == "" || uri == NamespaceUA {
		return 0, nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i, ns := range a.namespaces {
		if ns == uri {
			return uint16(i), nil
		}
	}
	return 0, protocolErr("namespace index", NodeID{}, fmt.Errorf("%w: %s", ErrUnknownNamespace, uri))
}

// LookupType implements Client.
func (a *AddressSpace) LookupType(name string) (*StructureNode, error) {
	n, err := a.types.Lookup(name)
	if err != nil {
		return nil, protocolErr("lookup type", NodeID{}, err)
	}
	return n, nil
}

type addressSpaceFile struct {
	Namespaces []string   `yaml:"namespaces"`
	Nodes      []NodeSpec `yaml:"nodes"`
}

// LoadAddressSpace reads a simulator file. Parents must be listed before
// their children.
func LoadAddressSpace(r io.Reader, types *TypeMap) (*AddressSpace, error) {
	var f addressSpaceFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode address space: %w", err)
	}
	a := NewAddressSpace(types)
	for _, ns := range f.Namespaces {
		a.AddNamespace(ns)
	}
	for _, spec := range f.Nodes {
		if err := a.AddNode(spec); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// LoadAddressSpaceFile is LoadAddressSpace for a path.
func LoadAddressSpaceFile(path string, types *TypeMap) (*AddressSpace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadAddressSpace(f, types)
}

var _ Client = (*AddressSpace)(nil)
