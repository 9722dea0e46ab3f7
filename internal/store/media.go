package store

import (
	"context"
	"fmt"

	"github.com/leitnerhq/leitner/internal/schema"
)

// PutMedia registers a media record and queues it for upload.
func (s *Store) PutMedia(ctx context.Context, m *schema.Media) error {
	m.SetDefaults()
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid media record: %w", err)
	}
	return s.applyLogged(ctx, schema.TableMedia, m.ID, schema.OpPut, m.Row())
}

// DeleteMedia removes a media record and queues the deletion. The blob in
// the content-addressed store is left alone; other records may share it.
func (s *Store) DeleteMedia(ctx context.Context, id string) error {
	return s.applyLogged(ctx, schema.TableMedia, id, schema.OpDelete, nil)
}

// GetMedia retrieves a single media record by id.
// Returns ErrNotFound if the record doesn't exist.
func (s *Store) GetMedia(ctx context.Context, id string) (*schema.Media, error) {
	r, err := s.getRow(ctx, schema.TableMedia, id)
	if err != nil {
		return nil, err
	}
	return schema.MediaFromRow(r), nil
}

// MediaByAddress returns the first media record with the given content
// address. The importer uses this to dedupe files that arrive again under a
// different name. Returns ErrNotFound if no record matches.
func (s *Store) MediaByAddress(ctx context.Context, address string) (*schema.Media, error) {
	rows, err := s.queryRows(ctx, schema.TableMedia,
		"WHERE content_address = ? ORDER BY created_at ASC LIMIT 1", address)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("media with address %s: %w", address, ErrNotFound)
	}
	return schema.MediaFromRow(rows[0]), nil
}

// ListMedia returns all media records ordered by filename.
func (s *Store) ListMedia(ctx context.Context) ([]*schema.Media, error) {
	rows, err := s.queryRows(ctx, schema.TableMedia, "ORDER BY filename COLLATE NOCASE ASC, id ASC")
	if err != nil {
		return nil, err
	}
	media := make([]*schema.Media, 0, len(rows))
	for _, r := range rows {
		media = append(media, schema.MediaFromRow(r))
	}
	return media, nil
}
