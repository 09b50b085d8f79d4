package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix    = "cdk_"
	apiKeyPrefixLen = 12
	tokenIssuer     = "coverdesk-automation"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidAPIKey  = errors.New("invalid api key")
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// AdminClaims are carried by admin API bearer tokens
type AdminClaims struct {
	AgencyID *int64 `json:"agency_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService issues and validates admin API credentials
type AuthService struct {
	PG        *sql.DB
	JWTSecret []byte
	Now       func() time.Time
}

func NewAuthService(pg *sql.DB, jwtSecret string) *AuthService {
	return &AuthService{
		PG:        pg,
		JWTSecret: []byte(jwtSecret),
		Now:       time.Now,
	}
}

func (s *AuthService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// IssueToken signs an HS256 token for subject
func (s *AuthService) IssueToken(subject, role string, agencyID *int64, ttl time.Duration) (string, error) {
	if len(s.JWTSecret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := s.now()
	claims := AdminClaims{
		AgencyID: agencyID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.JWTSecret)
}

// ValidateToken verifies signature, issuer and expiry
func (s *AuthService) ValidateToken(tokenString string) (*AdminClaims, error) {
	if len(s.JWTSecret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.JWTSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractTokenFromHeader reads the token out of "Bearer <token>"
func (s *AuthService) ExtractTokenFromHeader(authHeader string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(authHeader), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("authorization header must be 'Bearer <token>'")
	}
	return strings.TrimSpace(parts[1]), nil
}

// API KEYS

// CreateAPIKey generates a key, stores its bcrypt hash and returns the plaintext once
func (s *AuthService) CreateAPIKey(ctx context.Context, name string, agencyID *int64) (string, *db.APIKey, error) {
	plaintext := apiKeyPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}

	key := db.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyPrefix: plaintext[:apiKeyPrefixLen],
		KeyHash:   string(hash),
		AgencyID:  agencyID,
		IsActive:  true,
		CreatedAt: s.now(),
	}

	_, err = s.PG.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_prefix, key_hash, agency_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, key.ID, key.Name, key.KeyPrefix, key.KeyHash, nullableID(key.AgencyID), key.IsActive, key.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to store api key: %w", err)
	}

	return plaintext, &key, nil
}

// ValidateAPIKey looks a key up by prefix and checks it against the stored hash
func (s *AuthService) ValidateAPIKey(ctx context.Context, plaintext string) (*db.APIKey, error) {
	if !strings.HasPrefix(plaintext, apiKeyPrefix) || len(plaintext) <= apiKeyPrefixLen {
		return nil, ErrInvalidAPIKey
	}

	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, name, key_prefix, key_hash, agency_id, is_active, last_used_at, created_at
		FROM api_keys
		WHERE key_prefix = $1 AND is_active = true
	`, plaintext[:apiKeyPrefixLen])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key db.APIKey
		var agencyID sql.NullInt64
		var lastUsedAt sql.NullTime
		if err := rows.Scan(&key.ID, &key.Name, &key.KeyPrefix, &key.KeyHash, &agencyID, &key.IsActive, &lastUsedAt, &key.CreatedAt); err != nil {
			return nil, err
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(plaintext)) != nil {
			continue
		}
		if agencyID.Valid {
			key.AgencyID = &agencyID.Int64
		}
		if lastUsedAt.Valid {
			key.LastUsedAt = &lastUsedAt.Time
		}
		return &key, nil
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrInvalidAPIKey
}

// TouchAPIKey records the last time a key was used
func (s *AuthService) TouchAPIKey(ctx context.Context, id string) error {
	_, err := s.PG.ExecContext(ctx, "UPDATE api_keys SET last_used_at = $1 WHERE id = $2", s.now(), id)
	return err
}

// RevokeAPIKey deactivates a key. agencyID, when set, limits revocation to that agency's keys.
func (s *AuthService) RevokeAPIKey(ctx context.Context, id string, agencyID *int64) error {
	query := "UPDATE api_keys SET is_active = false WHERE id = $1 AND is_active = true"
	args := []interface{}{id}
	if agencyID != nil {
		query += " AND agency_id = $2"
		args = append(args, *agencyID)
	}

	result, err := s.PG.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
