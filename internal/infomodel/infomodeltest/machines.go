// Package infomodeltest builds machine tool fixtures in an
// infomodel.AddressSpace.
package infomodeltest

import (
	"fmt"
	"sort"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

// Machine describes a fixture machine below the Machines folder.
type Machine struct {
	Namespace string
	Name      string
	// Identification maps identification variable names to values. A nil
	// value adds the variable without a readable value.
	Identification map[string]any
	// NoIdentification omits the identification component.
	NoIdentification bool
	// Type overrides the machine type definition.
	Type infomodel.NodeID
}

// ID returns the node id the fixture machine is created with.
func (m Machine) ID() infomodel.NodeID {
	return infomodel.NodeID{NamespaceURI: m.Namespace, ID: "s=" + m.Name}
}

// NewSpace returns an address space holding an empty Machines folder.
func NewSpace() *infomodel.AddressSpace {
	a := infomodel.NewAddressSpace(infomodel.BuiltinTypes())
	if err := a.AddNode(infomodel.NodeSpec{
		ID:              infomodel.MachinesFolder,
		Reference:       "Organizes",
		BrowseName:      "Machines",
		BrowseNamespace: infomodel.NamespaceMachinery,
		Type:            infomodel.FolderType,
	}); err != nil {
		panic(err)
	}
	return a
}

// Complete returns identification values covering every mandatory variable.
func Complete(serial string) map[string]any {
	return map[string]any{
		"Manufacturer":       "ACME",
		"SerialNumber":       serial,
		"ProductInstanceUri": "urn:acme:" + serial,
	}
}

// Add creates m below the Machines folder and returns its browse result as
// discovery would see it.
func Add(a *infomodel.AddressSpace, m Machine) (infomodel.BrowseResult, error) {
	typ := m.Type
	if typ.IsZero() {
		typ = infomodel.MachineToolType
	}
	id := m.ID()
	if err := a.AddNode(infomodel.NodeSpec{
		ID:              id,
		Parent:          infomodel.MachinesFolder,
		Reference:       "Organizes",
		BrowseName:      m.Name,
		BrowseNamespace: m.Namespace,
		DisplayName:     m.Name,
		Type:            typ,
	}); err != nil {
		return infomodel.BrowseResult{}, err
	}
	if !m.NoIdentification {
		ident := IdentificationID(m)
		if err := a.AddNode(infomodel.NodeSpec{
			ID:              ident,
			Parent:          id,
			BrowseName:      "Identification",
			BrowseNamespace: infomodel.NamespaceMachineTool,
			Type:            infomodel.MachineToolIdentificationType,
		}); err != nil {
			return infomodel.BrowseResult{}, err
		}
		names := make([]string, 0, len(m.Identification))
		for name := range m.Identification {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := a.AddNode(infomodel.NodeSpec{
				ID:         VariableID(m, name),
				Parent:     ident,
				Reference:  "HasProperty",
				BrowseName: name,
				Class:      infomodel.NodeClassVariable,
				Value:      m.Identification[name],
			}); err != nil {
				return infomodel.BrowseResult{}, err
			}
		}
	}
	return infomodel.BrowseResult{
		NodeClass:       infomodel.NodeClassObject,
		NodeID:          id,
		TypeDefinition:  typ,
		ReferenceTypeID: infomodel.Organizes,
		BrowseName:      infomodel.QualifiedName{NamespaceURI: m.Namespace, Name: m.Name},
		DisplayName:     m.Name,
	}, nil
}

// MustAdd is Add that panics on error.
func MustAdd(a *infomodel.AddressSpace, m Machine) infomodel.BrowseResult {
	res, err := Add(a, m)
	if err != nil {
		panic(fmt.Sprintf("add fixture machine %s: %v", m.Name, err))
	}
	return res
}

// IdentificationID is the node id of m's identification component.
func IdentificationID(m Machine) infomodel.NodeID {
	return infomodel.NodeID{NamespaceURI: m.Namespace, ID: "s=" + m.Name + ".Identification"}
}

// VariableID is the node id of an identification variable of m.
func VariableID(m Machine, name string) infomodel.NodeID {
	return infomodel.NodeID{NamespaceURI: m.Namespace, ID: "s=" + m.Name + ".Identification." + name}
}
