package infomodel

import (
	"fmt"
	"sort"
	"sync"
)

// Namespaces of the companion specifications the built-in types come from.
const (
	NamespaceDI          = "http://opcfoundation.org/UA/DI/"
	NamespaceMachinery   = "http://opcfoundation.org/UA/Machinery/"
	NamespaceMachineTool = "http://opcfoundation.org/UA/MachineTool/"
)

// Built-in type names.
const (
	MachineToolTypeName               = "MachineToolType"
	MachineToolIdentificationTypeName = "MachineToolIdentificationType"
	StateModeListTypeName             = "StateModeListType"
)

// Type definition node ids of the built-in types.
var (
	MachineToolType               = NodeID{NamespaceURI: NamespaceMachineTool, ID: "i=13"}
	MachineToolIdentificationType = NodeID{NamespaceURI: NamespaceMachineTool, ID: "i=11"}
	StateModeListType             = NodeID{NamespaceURI: NamespaceMachineTool, ID: "i=42"}
	MachinesFolder                = NodeID{NamespaceURI: NamespaceMachinery, ID: "i=1001"}
)

// ModellingRule says whether an instance must expose a child.
type ModellingRule uint8

const (
	Mandatory ModellingRule = iota
	Optional
)

func (r ModellingRule) String() string {
	if r == Optional {
		return "Optional"
	}
	return "Mandatory"
}

// StructureNode describes one node of a type definition: its browse name,
// node class and the children an instance is expected to expose.
type StructureNode struct {
	BrowseName     QualifiedName
	NodeClass      NodeClass
	TypeDefinition NodeID
	ModellingRule  ModellingRule
	Children       []*StructureNode
}

// Walk calls fn for n and every descendant, depth first.
func (n *StructureNode) Walk(fn func(*StructureNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// TypeMap resolves type definitions by name. The zero value is empty and
// ready to use.
type TypeMap struct {
	mu    sync.RWMutex
	types map[string]*StructureNode
}

// Register adds or replaces a type definition.
func (m *TypeMap) Register(name string, n *StructureNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.types == nil {
		m.types = make(map[string]*StructureNode)
	}
	m.types[name] = n
}

// Lookup returns the type definition registered under name.
func (m *TypeMap) Lookup(name string) (*StructureNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return n, nil
}

// Names lists the registered type names in order.
func (m *TypeMap) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.types))
	for name := range m.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func variable(ns, name string, rule ModellingRule) *StructureNode {
	return &StructureNode{
		BrowseName:     QualifiedName{NamespaceURI: ns, Name: name},
		NodeClass:      NodeClassVariable,
		TypeDefinition: BaseDataVariableType,
		ModellingRule:  rule,
	}
}

func object(ns, name string, typeDef NodeID, rule ModellingRule, children ...*StructureNode) *StructureNode {
	return &StructureNode{
		BrowseName:     QualifiedName{NamespaceURI: ns, Name: name},
		NodeClass:      NodeClassObject,
		TypeDefinition: typeDef,
		ModellingRule:  rule,
		Children:       children,
	}
}

func identificationType(rule ModellingRule) *StructureNode {
	return object(NamespaceMachineTool, "Identification", MachineToolIdentificationType, rule,
		variable(NamespaceDI, "Manufacturer", Mandatory),
		variable(NamespaceDI, "SerialNumber", Mandatory),
		variable(NamespaceMachinery, "ProductInstanceUri", Mandatory),
		variable(NamespaceDI, "Model", Optional),
		variable(NamespaceMachinery, "YearOfConstruction", Optional),
		variable(NamespaceMachinery, "Location", Optional),
		variable(NamespaceDI, "SoftwareRevision", Optional),
	)
}

func stateModeListType(rule ModellingRule) *StructureNode {
	return object(NamespaceMachineTool, "StateModeList", StateModeListType, rule,
		variable(NamespaceMachineTool, "CurrentState", Mandatory),
		variable(NamespaceMachineTool, "CurrentMode", Optional),
	)
}

// BuiltinTypes returns a TypeMap holding the machine tool types the bridge
// publishes.
func BuiltinTypes() *TypeMap {
	m := &TypeMap{}
	m.Register(MachineToolIdentificationTypeName, identificationType(Mandatory))
	m.Register(StateModeListTypeName, stateModeListType(Mandatory))
	m.Register(MachineToolTypeName, object(NamespaceMachineTool, MachineToolTypeName, MachineToolType, Mandatory,
		identificationType(Mandatory),
		object(NamespaceMachineTool, "Monitoring", BaseObjectType, Optional,
			object(NamespaceMachineTool, "MachineTool", BaseObjectType, Optional,
				variable(NamespaceMachineTool, "OperationMode", Optional),
				variable(NamespaceMachineTool, "PowerOnDuration", Optional),
			),
		),
		object(NamespaceMachineTool, "Production", BaseObjectType, Optional,
			object(NamespaceMachineTool, "ActiveProgram", BaseObjectType, Optional,
				variable(NamespaceMachineTool, "Name", Optional),
				variable(NamespaceMachineTool, "State", Optional),
			),
		),
		stateModeListType(Optional),
	))
	return m
}
