package observer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel/infomodeltest"
)

func TestProberIsOnline(t *testing.T) {
	tests := []struct {
		name    string
		machine infomodeltest.Machine
		want    bool
	}{
		{
			name:    "no identification component",
			machine: infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", NoIdentification: true},
		},
		{
			name:    "identification without children",
			machine: infomodeltest.Machine{Namespace: latheNS, Name: "Lathe"},
		},
		{
			name: "all values unreadable",
			machine: infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: map[string]any{
				"Manufacturer": nil,
				"SerialNumber": nil,
			}},
		},
		{
			name: "one readable value",
			machine: infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: map[string]any{
				"Manufacturer": nil,
				"SerialNumber": "L-1",
			}},
			want: true,
		},
		{
			name:    "complete identification",
			machine: infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: infomodeltest.Complete("L-2")},
			want:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := infomodeltest.NewSpace()
			infomodeltest.MustAdd(a, tt.machine)
			p := NewProber(a, nil)
			assert.Equal(t, tt.want, p.IsOnline(context.Background(), tt.machine.ID(), infomodel.MachineToolIdentificationType))
		})
	}
}

func TestProberUnknownMachine(t *testing.T) {
	p := NewProber(infomodeltest.NewSpace(), nil)
	assert.False(t, p.IsOnline(context.Background(), infomodel.NodeID{NamespaceURI: latheNS, ID: "s=Ghost"}, infomodel.MachineToolIdentificationType))
}

func TestProberReadsFirstIdentificationOnly(t *testing.T) {
	a := infomodeltest.NewSpace()
	m := infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: map[string]any{"SerialNumber": nil}}
	infomodeltest.MustAdd(a, m)

	second := infomodel.NodeID{NamespaceURI: latheNS, ID: "s=Lathe.Identification2"}
	require.NoError(t, a.AddNode(infomodel.NodeSpec{
		ID:     second,
		Parent: m.ID(),
		Type:   infomodel.MachineToolIdentificationType,
	}))
	require.NoError(t, a.AddNode(infomodel.NodeSpec{
		ID:         infomodel.NodeID{NamespaceURI: latheNS, ID: "s=Lathe.Identification2.SerialNumber"},
		Parent:     second,
		Reference:  "HasProperty",
		BrowseName: "SerialNumber",
		Value:      "L-9",
	}))

	p := NewProber(a, nil)
	assert.False(t, p.IsOnline(context.Background(), m.ID(), infomodel.MachineToolIdentificationType))
}

func TestProberIdentificationValues(t *testing.T) {
	a := infomodeltest.NewSpace()
	m := infomodeltest.Machine{Namespace: latheNS, Name: "Lathe", Identification: map[string]any{
		"Manufacturer": "ACME",
		"SerialNumber": nil,
	}}
	infomodeltest.MustAdd(a, m)
	p := NewProber(a, nil)

	values, err := p.IdentificationValues(context.Background(), m.ID(), infomodel.MachineToolIdentificationType)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Manufacturer": "ACME"}, values)

	bare := infomodeltest.Machine{Namespace: millNS, Name: "Mill", NoIdentification: true}
	infomodeltest.MustAdd(a, bare)
	_, err = p.IdentificationValues(context.Background(), bare.ID(), infomodel.MachineToolIdentificationType)
	assert.ErrorIs(t, err, ErrNoIdentification)
}
