package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tabhq/tab-billing/internal/domain"
)

// CreateMerchant inserts a new merchant account. Duplicate emails surface as
// a conflict, not a raw constraint error.
func (s *Store) CreateMerchant(ctx context.Context, m *domain.Merchant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Email, m.PasswordHash, fmtTime(m.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return &domain.ErrConflict{Message: "email already registered"}
		}
		return fmt.Errorf("failed to create merchant: %w", err)
	}
	return nil
}

// GetMerchantByEmail fetches a merchant for login.
func (s *Store) GetMerchantByEmail(ctx context.Context, email string) (*domain.Merchant, error) {
	return s.getMerchant(ctx, `SELECT id, name, email, password_hash, created_at FROM merchants WHERE email = ?`, email)
}

// GetMerchantByID fetches a merchant by primary key.
func (s *Store) GetMerchantByID(ctx context.Context, id string) (*domain.Merchant, error) {
	return s.getMerchant(ctx, `SELECT id, name, email, password_hash, created_at FROM merchants WHERE id = ?`, id)
}

func (s *Store) getMerchant(ctx context.Context, query string, arg any) (*domain.Merchant, error) {
	var m domain.Merchant
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&m.ID, &m.Name, &m.Email, &m.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "merchant"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateAPIKey stores the hash of a freshly issued key.
func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, merchant_id, key_hash, label, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.MerchantID, key.KeyHash, key.Label, fmtTime(key.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash resolves an incoming key hash to its record.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var k domain.APIKey
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, merchant_id, key_hash, label, created_at FROM api_keys WHERE key_hash = ?`,
		keyHash).Scan(&k.ID, &k.MerchantID, &k.KeyHash, &k.Label, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "api key"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	if k.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &k, nil
}
