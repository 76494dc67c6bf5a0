package realtime

// Named realtime streams.
const (
	StreamConnectionStatus = "connection.status"
)

// Event names.
const (
	EventStatusChanged = "status.changed"
)

// DefaultRedisChannel carries status events between instances.
const DefaultRedisChannel = "dbwarden:status"
