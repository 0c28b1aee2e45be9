package model

import "time"

// WebhookEvent stores every authenticated provider webhook payload before any
// downstream processing. The unique (provider, provider_event_id) index makes
// redelivered events detectable at insert time.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(32);not null;uniqueIndex:ux_webhook_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:text;not null" json:"payload_json"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingNote  string     `gorm:"type:text" json:"processing_note"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
