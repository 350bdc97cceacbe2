package infomodel

import (
	"fmt"
	"strings"
)

// NamespaceUA is the base namespace of every information model; index 0.
const NamespaceUA = "http://opcfoundation.org/UA/"

// NodeID identifies one node in an information model. NamespaceURI is empty
// for nodes of the base namespace. ID is the local identifier in its textual
// form, e.g. "i=85" or "s=Machines".
type NodeID struct {
	NamespaceURI string
	ID           string
}

// IsZero reports whether the node id is unset.
func (n NodeID) IsZero() bool {
	return n.NamespaceURI == "" && n.ID == ""
}

func (n NodeID) String() string {
	if n.NamespaceURI == "" || n.NamespaceURI == NamespaceUA {
		return n.ID
	}
	return "nsu=" + n.NamespaceURI + ";" + n.ID
}

// MarshalText implements encoding.TextMarshaler so node ids can be used as
// JSON map keys and YAML scalars.
func (n NodeID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NodeID) UnmarshalText(b []byte) error {
	id, err := ParseNodeID(string(b))
	if err != nil {
		return err
	}
	*n = id
	return nil
}

// ParseNodeID parses "nsu=<uri>;<id>" or a bare "<id>" of the base namespace.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NodeID{}, fmt.Errorf("empty node id")
	}
	if rest, ok := strings.CutPrefix(s, "nsu="); ok {
		i := strings.LastIndex(rest, ";")
		if i <= 0 || i == len(rest)-1 {
			return NodeID{}, fmt.Errorf("malformed node id %q", s)
		}
		uri, local := rest[:i], rest[i+1:]
		if err := checkLocalID(local); err != nil {
			return NodeID{}, fmt.Errorf("node id %q: %w", s, err)
		}
		if uri == NamespaceUA {
			uri = ""
		}
		return NodeID{NamespaceURI: uri, ID: local}, nil
	}
	if err := checkLocalID(s); err != nil {
		return NodeID{}, fmt.Errorf("node id %q: %w", s, err)
	}
	return NodeID{ID: s}, nil
}

func checkLocalID(local string) error {
	if len(local) < 3 || local[1] != '=' {
		return fmt.Errorf("local id must look like i=, s=, g= or b=")
	}
	switch local[0] {
	case 'i', 's', 'g', 'b':
		return nil
	}
	return fmt.Errorf("unknown identifier type %q", local[0])
}

// MustParseNodeID is ParseNodeID for package-level constants.
func MustParseNodeID(s string) NodeID {
	id, err := ParseNodeID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// QualifiedName is a browse name. An empty NamespaceURI matches any namespace.
type QualifiedName struct {
	NamespaceURI string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Name         string `yaml:"name" json:"name"`
}

func (q QualifiedName) String() string {
	if q.NamespaceURI == "" {
		return q.Name
	}
	return q.NamespaceURI + ":" + q.Name
}

// Matches compares names, ignoring namespaces when either side has none.
func (q QualifiedName) Matches(other QualifiedName) bool {
	if q.Name != other.Name {
		return false
	}
	return q.NamespaceURI == "" || other.NamespaceURI == "" || q.NamespaceURI == other.NamespaceURI
}

// NodeClass mirrors the OPC UA node class bit values.
type NodeClass uint32

const (
	NodeClassUnspecified   NodeClass = 0
	NodeClassObject        NodeClass = 1
	NodeClassVariable      NodeClass = 2
	NodeClassMethod        NodeClass = 4
	NodeClassObjectType    NodeClass = 8
	NodeClassVariableType  NodeClass = 16
	NodeClassReferenceType NodeClass = 32
	NodeClassDataType      NodeClass = 64
	NodeClassView          NodeClass = 128

	// NodeClassAll is the browse mask selecting every node class.
	NodeClassAll NodeClass = 0
)

var nodeClassNames = map[NodeClass]string{
	NodeClassObject:        "Object",
	NodeClassVariable:      "Variable",
	NodeClassMethod:        "Method",
	NodeClassObjectType:    "ObjectType",
	NodeClassVariableType:  "VariableType",
	NodeClassReferenceType: "ReferenceType",
	NodeClassDataType:      "DataType",
	NodeClassView:          "View",
}

func (c NodeClass) String() string {
	if name, ok := nodeClassNames[c]; ok {
		return name
	}
	return "Unspecified"
}

// MarshalText implements encoding.TextMarshaler.
func (c NodeClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *NodeClass) UnmarshalText(b []byte) error {
	for class, name := range nodeClassNames {
		if strings.EqualFold(name, string(b)) {
			*c = class
			return nil
		}
	}
	return fmt.Errorf("unknown node class %q", string(b))
}

// Well-known reference types of the base namespace.
var (
	HierarchicalReferences = NodeID{ID: "i=33"}
	Organizes              = NodeID{ID: "i=35"}
	HasComponent           = NodeID{ID: "i=47"}
	HasProperty            = NodeID{ID: "i=46"}

	// ObjectsFolder is the root of every instance hierarchy.
	ObjectsFolder = NodeID{ID: "i=85"}
	// BaseObjectType and FolderType are the default type definitions.
	BaseObjectType       = NodeID{ID: "i=58"}
	FolderType           = NodeID{ID: "i=61"}
	BaseDataVariableType = NodeID{ID: "i=63"}
	PropertyType         = NodeID{ID: "i=68"}
)

// IsHierarchical reports whether ref is one of the hierarchical reference
// types this package knows about.
func IsHierarchical(ref NodeID) bool {
	switch ref {
	case HierarchicalReferences, Organizes, HasComponent, HasProperty:
		return true
	}
	return false
}

// BrowseResult is one reference returned by a browse.
type BrowseResult struct {
	NodeClass       NodeClass
	NodeID          NodeID
	TypeDefinition  NodeID
	ReferenceTypeID NodeID
	BrowseName      QualifiedName
	DisplayName     string
}

// Name returns the display name, falling back to the browse name.
func (b BrowseResult) Name() string {
	if b.DisplayName != "" {
		return b.DisplayName
	}
	return b.BrowseName.Name
}

// BrowseOptions controls BrowseChildren.
type BrowseOptions struct {
	ReferenceType   NodeID
	IncludeSubtypes bool
	NodeClassMask   NodeClass
}

// FullHierarchy browses every hierarchical reference and node class.
var FullHierarchy = BrowseOptions{
	ReferenceType:   HierarchicalReferences,
	IncludeSubtypes: true,
	NodeClassMask:   NodeClassAll,
}

// DataValue is the result of reading one node's value. Err is non-nil when
// the value could not be read.
type DataValue struct {
	NodeID NodeID
	Value  any
	Err    error
}

// OK reports whether the value was read successfully.
func (v DataValue) OK() bool { return v.Err == nil }
