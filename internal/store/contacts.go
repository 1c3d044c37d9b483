package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/workflow-notifier/internal/models"
)

// UpsertContact inserts or replaces the contact of a client.
func (s *SQLiteStore) UpsertContact(ctx context.Context, c models.ClientContact) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO client_contacts (client_id, name, email, phone)
		VALUES (:client_id, :name, :email, :phone)`, c)
	if err != nil {
		return fmt.Errorf("upserting contact %s: %w", c.ClientID, err)
	}
	return nil
}

// GetContact returns the contact of a client.
func (s *SQLiteStore) GetContact(ctx context.Context, clientID string) (*models.ClientContact, error) {
	var c models.ClientContact
	err := s.db.GetContext(ctx, &c, "SELECT * FROM client_contacts WHERE client_id = ?", clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting contact %s: %w", clientID, err)
	}
	return &c, nil
}

// LinkEntity records clientID as the owner of a business entity (an order, a
// payment). A later link replaces the earlier one.
func (s *SQLiteStore) LinkEntity(ctx context.Context, entityID, clientID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_clients (entity_id, client_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET client_id = excluded.client_id, updated_at = excluded.updated_at`,
		entityID, clientID, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("linking entity %s: %w", entityID, err)
	}
	return nil
}

// ContactForEntity returns the contact of the client that owns entityID.
func (s *SQLiteStore) ContactForEntity(ctx context.Context, entityID string) (*models.ClientContact, error) {
	var c models.ClientContact
	err := s.db.GetContext(ctx, &c, `
		SELECT c.client_id, c.name, c.email, c.phone
		FROM entity_clients e
		JOIN client_contacts c ON c.client_id = e.client_id
		WHERE e.entity_id = ?`, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact for entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting contact for entity %s: %w", entityID, err)
	}
	return &c, nil
}
