package bus

import "time"

// Event names published by the runtime.
const (
	EventConnectionStatusChanged = "connection.status_changed"
	EventReconnectProgress       = "connection.reconnect_progress"
	EventArtifactsFetched        = "connection.artifacts_fetched"
	EventStateChanged            = "state.changed"
)

// ConnectionStatusChanged announces an MCP connection state transition.
type ConnectionStatusChanged struct {
	Server string
	Status string
}

func (ConnectionStatusChanged) EventName() string { return EventConnectionStatusChanged }

// ReconnectProgress is published before each reconnection wait.
type ReconnectProgress struct {
	Server         string
	Attempts       int
	MaxAttempts    int
	NextRetryDelay time.Duration
}

func (ReconnectProgress) EventName() string { return EventReconnectProgress }

// ArtifactsFetched announces a refresh of a server's advertised tools,
// prompts, and resources. Changed is false when the refresh found the same
// capability set as before.
type ArtifactsFetched struct {
	Server  string
	Changed bool
}

func (ArtifactsFetched) EventName() string { return EventArtifactsFetched }

// StateChanged announces a mutation of a session sub-aggregate.
type StateChanged struct {
	SessionID  string
	Component  string
	ChangeType string
	Details    map[string]any
}

func (StateChanged) EventName() string { return EventStateChanged }
