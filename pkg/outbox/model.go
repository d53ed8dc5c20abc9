// Package outbox relays events recorded in the database to Kafka.
//
// Events are appended in the same transaction as the state change they
// describe. A Relay later leases pending rows, publishes them and marks them
// sent, so delivery is at least once.
package outbox

import "time"

// Event is a leased outbox row ready to publish.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time

	// Attempts counts earlier failed publishes; LastError is the most recent
	// failure, empty on the first attempt.
	Attempts  int
	LastError string
}

// Retry reports whether the event failed to publish before.
func (e Event) Retry() bool { return e.Attempts > 0 }
