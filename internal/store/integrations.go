package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/pypeaday/soonish/internal/crypto"
	"github.com/pypeaday/soonish/internal/modkit"
)

type IntegrationRepo struct{ db *sql.DB }

func NewIntegrationRepo(db *DB) *IntegrationRepo { return &IntegrationRepo{db: db.Conn()} }

func (r *IntegrationRepo) ByID(ctx context.Context, id int64) (*Integration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, tag, is_active, type, delivery_url_cipher, config_cipher, created_at
		FROM integrations WHERE id = $1`, id)
	return scanIntegration(row)
}

func (r *IntegrationRepo) ByUser(ctx context.Context, userID int64, activeOnly bool) ([]Integration, error) {
	q := `SELECT id, user_id, name, tag, is_active, type, delivery_url_cipher, config_cipher, created_at
		  FROM integrations WHERE user_id = $1`
	if activeOnly {
		q += ` AND is_active = true`
	}
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanIntegrations(rows)
}

func (r *IntegrationRepo) ByUserAndTag(ctx context.Context, userID int64, tag string, activeOnly bool) ([]Integration, error) {
	q := `SELECT id, user_id, name, tag, is_active, type, delivery_url_cipher, config_cipher, created_at
		  FROM integrations WHERE user_id = $1 AND tag = $2`
	if activeOnly {
		q += ` AND is_active = true`
	}
	rows, err := r.db.QueryContext(ctx, q, userID, NormalizeTag(tag))
	if err != nil {
		return nil, err
	}
	return scanIntegrations(rows)
}

// NormalizeTag is the "Tag invariant" model-level hook (spec.md §3): every
// tag is lowercased on write, and non-empty.
func NormalizeTag(tag string) string { return strings.ToLower(strings.TrimSpace(tag)) }

type CreateIntegrationInput struct {
	UserID            int64
	Name              string
	Tag               string
	Type              IntegrationType
	DeliveryURLCipher []byte
	ConfigCipher      []byte
}

func (r *IntegrationRepo) Create(ctx context.Context, in CreateIntegrationInput) (*Integration, error) {
	tag := NormalizeTag(in.Tag)
	if tag == "" {
		return nil, modkit.NewError(modkit.KindValidation, "tag must not be empty")
	}
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO integrations (user_id, name, tag, is_active, type, delivery_url_cipher, config_cipher, created_at)
		VALUES ($1,$2,$3,true,$4,$5,$6,$7)
		RETURNING id, user_id, name, tag, is_active, type, delivery_url_cipher, config_cipher, created_at`,
		in.UserID, in.Name, tag, string(in.Type), in.DeliveryURLCipher, in.ConfigCipher, now,
	)
	integ, err := scanIntegration(row)
	if err != nil && isUniqueViolation(err) {
		return nil, conflict("integration with this name and tag already exists for user")
	}
	return integ, err
}

// GetOrCreate matches spec.md §4.2's "(user_id, name, tag)" uniqueness
// contract: callers that re-submit the same integration get the existing
// row back instead of a conflict.
func (r *IntegrationRepo) GetOrCreate(ctx context.Context, in CreateIntegrationInput) (*Integration, bool, error) {
	tag := NormalizeTag(in.Tag)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, tag, is_active, type, delivery_url_cipher, config_cipher, created_at
		FROM integrations WHERE user_id=$1 AND name=$2 AND tag=$3`, in.UserID, in.Name, tag)
	if err != nil {
		return nil, false, err
	}
	existing, err := scanIntegrations(rows)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return &existing[0], false, nil
	}
	created, err := r.Create(ctx, in)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *IntegrationRepo) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE integrations SET is_active=$1 WHERE id=$2`, active, id)
	return err
}

// Delete cascades subscription_selectors referencing this integration (FK
// ON DELETE CASCADE, spec.md Open Question resolved as "cascade-delete the
// selector").
func (r *IntegrationRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM integrations WHERE id=$1`, id)
	return err
}

func scanIntegration(row *sql.Row) (*Integration, error) {
	var i Integration
	var typ string
	if err := row.Scan(&i.ID, &i.UserID, &i.Name, &i.Tag, &i.IsActive, &typ, &i.DeliveryURLCipher, &i.ConfigCipher, &i.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("integration")
		}
		return nil, err
	}
	i.Type = IntegrationType(typ)
	return &i, nil
}

func scanIntegrations(rows *sql.Rows) ([]Integration, error) {
	defer rows.Close()
	var out []Integration
	for rows.Next() {
		var i Integration
		var typ string
		if err := rows.Scan(&i.ID, &i.UserID, &i.Name, &i.Tag, &i.IsActive, &typ, &i.DeliveryURLCipher, &i.ConfigCipher, &i.CreatedAt); err != nil {
			return nil, err
		}
		i.Type = IntegrationType(typ)
		out = append(out, i)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint") || strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint")
}

// IntegrationService composes the repository with the encryption invariant:
// Create encrypts on the way in, DecryptDeliveryURL is only ever called from
// C3 (internal/resolver) — never logged, never
// returned across the process boundary otherwise (spec.md §3, §8.3).
type IntegrationService struct {
	repo   *IntegrationRepo
	cipher *crypto.Cipher
}

func NewIntegrationService(repo *IntegrationRepo, cipher *crypto.Cipher) *IntegrationService {
	return &IntegrationService{repo: repo, cipher: cipher}
}

type CreateIntegrationRequest struct {
	UserID      int64
	Name        string
	Tag         string
	Type        IntegrationType
	DeliveryURL string
	ConfigJSON  string
}

func (s *IntegrationService) Create(ctx context.Context, req CreateIntegrationRequest) (*Integration, error) {
	urlCipher, err := s.cipher.EncryptString(req.DeliveryURL)
	if err != nil {
		return nil, err
	}
	var cfgCipher []byte
	if req.ConfigJSON != "" {
		cfgCipher, err = s.cipher.EncryptString(req.ConfigJSON)
		if err != nil {
			return nil, err
		}
	}
	return s.repo.Create(ctx, CreateIntegrationInput{
		UserID: req.UserID, Name: req.Name, Tag: req.Tag, Type: req.Type,
		DeliveryURLCipher: urlCipher, ConfigCipher: cfgCipher,
	})
}

// DecryptDeliveryURL is the one legitimate place plaintext delivery_url
// comes back into memory, transiently, for a single send (spec.md §3).
func (s *IntegrationService) DecryptDeliveryURL(integ Integration) (string, error) {
	return s.cipher.DecryptString(integ.DeliveryURLCipher)
}
