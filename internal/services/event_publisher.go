package services

// Event subjects, relative to the configured prefix.
const (
	SubjectRelayPrefix     = "relay."
	SubjectGameResultSaved = "game_result.saved"
)

// EventPublisher broadcasts domain events. Implemented by the NATS client and the live feed hub.
type EventPublisher interface {
	Publish(subject string, payload interface{}) error
}

// NoopPublisher drops events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, interface{}) error { return nil }
