package machine

import "time"

// Status of a provisioned build.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Build is the persisted record of a machine the build service created.
// Shared between the build service and storage layers.
type Build struct {
	ID         string            `json:"id"`
	Requestor  string            `json:"requestor"`
	Kind       Kind              `json:"kind"`
	MachineKey string            `json:"machine_key"`
	HostName   string            `json:"host_name"`
	Status     Status            `json:"status"`
	Version    int64             `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
