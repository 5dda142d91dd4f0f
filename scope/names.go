package scope

// Scopes checked by the HTTP API.
const (
	KeysRead      = "keys.read"
	KeysWrite     = "keys.write"
	WebhooksRead  = "webhooks.read"
	WebhooksWrite = "webhooks.write"
	EventsRead    = "events.read"
	EventsWrite   = "events.write"
	AuditRead     = "audit.read"
)
