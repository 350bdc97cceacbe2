package models

import "time"

// Machine record statuses.
const (
	StatusOnline  = "online"
	StatusRemoved = "removed"
)

// MachineRecord is the persisted history of one machine the bridge has seen.
// Shared between the observer and storage layers.
type MachineRecord struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	NamespaceURI string     `json:"namespace_uri"`
	Site         string     `json:"site"`
	Status       string     `json:"status"`
	OnlineSince  time.Time  `json:"online_since"`
	RemovedAt    *time.Time `json:"removed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

// MachineListEntry is one element of the aggregate machine list published
// to dashboards.
type MachineListEntry struct {
	NodeID         string         `json:"nodeId"`
	NamespaceURI   string         `json:"namespaceUri"`
	Site           string         `json:"site"`
	Identification map[string]any `json:"identification"`
}
