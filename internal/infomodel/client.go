// Package infomodel describes the information-model source the bridge reads
// machines from: node identifiers, browse results, type definitions and the
// Client capability set. Two implementations live here, an in-memory
// AddressSpace used for simulation and tests, and an OPC UA adapter.
package infomodel

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrUnknownNamespace = errors.New("namespace not in cache")
	ErrUnknownType      = errors.New("type definition not found")
	ErrBadValue         = errors.New("value not readable")
)

// Client is the capability set the bridge needs from an information-model
// source. Implementations must be safe for concurrent use.
type Client interface {
	// Browse returns the forward references of start with the given
	// reference type. A zero typeDefinition disables type filtering.
	Browse(ctx context.Context, start, referenceType, typeDefinition NodeID) ([]BrowseResult, error)

	// BrowseChildren browses below start according to opts.
	BrowseChildren(ctx context.Context, start NodeID, opts BrowseOptions) ([]BrowseResult, error)

	// TranslateBrowsePath resolves the child of start with the given name.
	TranslateBrowsePath(ctx context.Context, start NodeID, name QualifiedName) (NodeID, error)

	// ReadValues reads the current values of ids. The result has one entry
	// per id in the same order; per-node failures are reported in the entry.
	ReadValues(ctx context.Context, ids []NodeID) ([]DataValue, error)

	// NamespaceIndex returns the cached index of a namespace URI.
	NamespaceIndex(uri string) (uint16, error)

	// LookupType returns the structure of a named type definition.
	LookupType(name string) (*StructureNode, error)
}

// ProtocolError is returned by Client implementations for every failed
// operation.
type ProtocolError struct {
	Op   string
	Node NodeID
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Node.IsZero() {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Node, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(op string, node NodeID, err error) error {
	return &ProtocolError{Op: op, Node: node, Err: err}
}

// NewNodeID builds a node id, normalizing the base namespace to "".
func NewNodeID(namespaceURI, id string) NodeID {
	if namespaceURI == NamespaceUA {
		namespaceURI = ""
	}
	return NodeID{NamespaceURI: namespaceURI, ID: id}
}
