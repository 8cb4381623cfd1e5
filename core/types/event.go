package types

// Event is the structured payload emitted by state transitions and consumed by
// downstream indexers and RPC subscribers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
