package model

import "time"

// DocumentHandle is the result of one successful PDF ingestion. It is
// created once per upload and never mutated afterwards; a new upload
// produces a new handle and a new conversation.
type DocumentHandle struct {
	// DocumentRef is the AI-backend-issued resource name for the uploaded
	// file (used for status polling).
	DocumentRef string `json:"document_ref"`
	// DocumentURI is the backend locator attached to prompts to re-ground
	// each user turn in the original PDF bytes.
	DocumentURI string `json:"document_uri"`
	// SessionID scopes the derived page-image set on the extraction
	// backend. Empty when extraction failed.
	SessionID   string      `json:"session_id"`
	Pages       []PageImage `json:"pages"`
	DisplayName string      `json:"display_name"`
	// RecordID is the registry row for this upload; 0 when the registry is
	// disabled.
	RecordID uint `json:"record_id,omitempty"`
}

// PageImage describes one rendered page of the uploaded document.
// Pages are sorted by PageNumber, contiguous from 1, when extraction
// succeeds.
type PageImage struct {
	ID         string `json:"id"`
	PageNumber int    `json:"page_number"`
	Label      string `json:"label"`
	Locator    string `json:"locator"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// DocumentRecord is the registry row persisted per upload. It stores
// metadata and usage counters only, never conversation content.
type DocumentRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DisplayName  string    `gorm:"size:256;not null" json:"display_name"`
	DocumentRef  string    `gorm:"size:256;not null;index" json:"document_ref"`
	SessionID    string    `gorm:"size:64" json:"session_id"`
	PageCount    int       `json:"page_count"`
	TurnCount    int       `gorm:"not null;default:0" json:"turn_count"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}
