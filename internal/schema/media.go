package schema

import (
	"fmt"
	"time"
)

// Media is a synchronized reference to a content-addressed blob. The bytes
// themselves live in the local media store under ContentAddress; only this
// row travels through sync.
type Media struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Filename       string    `json:"filename"`
	ContentAddress string    `json:"content_address"`
	Size           int64     `json:"size"`
	MIME           string    `json:"mime,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ModifiedAt     time.Time `json:"modified_at"`
}

// Validate checks the media record has valid field values.
func (m *Media) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if m.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if m.ContentAddress == "" {
		return fmt.Errorf("content_address is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (m *Media) SetDefaults() {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ModifiedAt.IsZero() {
		m.ModifiedAt = m.CreatedAt
	}
}

// Row converts the media record to its flat boundary representation.
func (m *Media) Row() Row {
	return Row{
		"id":              m.ID,
		"owner_id":        m.OwnerID,
		"filename":        m.Filename,
		"content_address": m.ContentAddress,
		"size":            m.Size,
		"mime":            m.MIME,
		"created_at":      Millis(m.CreatedAt),
		"modified_at":     Millis(m.ModifiedAt),
	}
}

// MediaFromRow rebuilds a media record from a Row.
func MediaFromRow(r Row) *Media {
	return &Media{
		ID:             r.String("id"),
		OwnerID:        r.String("owner_id"),
		Filename:       r.String("filename"),
		ContentAddress: r.String("content_address"),
		Size:           r.Int("size"),
		MIME:           r.String("mime"),
		CreatedAt:      r.Time("created_at"),
		ModifiedAt:     r.Time("modified_at"),
	}
}
