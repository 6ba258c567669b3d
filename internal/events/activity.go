// Package events defines the payloads recorded in the outbox and published to
// Kafka.
package events

import "time"

// ActivityCreated is emitted when a new activity is persisted.
type ActivityCreated struct {
	ActivityID         string    `json:"activity_id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	StartAt            time.Time `json:"start_at"`
	EndAt              time.Time `json:"end_at"`
	SupportedLanguages []string  `json:"supported_languages"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// ActivityUpdated is emitted after a partial update commits.
type ActivityUpdated struct {
	ActivityID         string    `json:"activity_id"`
	Slug               string    `json:"slug"`
	SupportedLanguages []string  `json:"supported_languages"`
	ContentLanguages   []string  `json:"content_languages"`
	OccurredAt         time.Time `json:"occurred_at"`
}
