package protocol

// Events pushed from bridge to host.
const (
	EventHello    = "hello"
	EventInbound  = "inbound"
	EventShutdown = "shutdown"
)

// HelloPayload announces the bridge once stdio is wired.
type HelloPayload struct {
	Protocol int      `json:"protocol"`
	Version  string   `json:"version"`
	Channels []string `json:"channels"`
}
