package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenPrefix starts every generated token so leaked tokens are easy to spot.
const TokenPrefix = "lh_"

// Roles carried by tokens. Only admins may call the admin API.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"

	roleKey = "role"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrTokenNotFound = errors.New("token not found")
)

// TokenStorage manages API tokens in the auth_tokens table. Only a SHA-256
// hash of each token is stored.
type TokenStorage struct {
	db  *sql.DB
	now func() time.Time
}

// TokenInfo is the public view of a token.
type TokenInfo struct {
	TokenID    string            `json:"token_id"`
	ClientName string            `json:"client_name"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
	IsActive   bool              `json:"is_active"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Role returns the token's role.
func (t *TokenInfo) Role() string {
	return t.Metadata[roleKey]
}

// Expired reports whether the token expired before now.
func (t *TokenInfo) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// CreateTokenRequest contains parameters for creating a new token
type CreateTokenRequest struct {
	ClientName string            `json:"client_name"`
	Role       string            `json:"role"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CreateTokenResponse carries the raw token, which is never shown again.
type CreateTokenResponse struct {
	Token     string    `json:"token"`
	TokenInfo TokenInfo `json:"token_info"`
}

// NewTokenStorage creates a new token storage instance
func NewTokenStorage(db *sql.DB) *TokenStorage {
	return &TokenStorage{db: db, now: time.Now}
}

// HashToken returns the stored form of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateToken generates and stores a new token.
func (ts *TokenStorage) CreateToken(ctx context.Context, req CreateTokenRequest) (*CreateTokenResponse, error) {
	clientName := strings.TrimSpace(req.ClientName)
	if clientName == "" {
		return nil, fmt.Errorf("client_name is required")
	}

	role := req.Role
	if role == "" {
		role = RoleAdmin
	}
	if role != RoleAdmin && role != RoleViewer {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}
	rawToken := TokenPrefix + hex.EncodeToString(tokenBytes)

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[roleKey] = role
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tokenID := uuid.New().String()
	_, err = ts.db.ExecContext(ctx, `
		INSERT INTO auth_tokens
		(token_id, client_name, hashed_token, created_at, expires_at, is_active, metadata)
		VALUES (?, ?, ?, ?, ?, 1, ?)
	`,
		tokenID,
		clientName,
		HashToken(rawToken),
		formatTime(ts.now()),
		formatTimePtr(req.ExpiresAt),
		string(metadataJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	info, err := ts.GetTokenInfo(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve created token: %w", err)
	}
	return &CreateTokenResponse{Token: rawToken, TokenInfo: *info}, nil
}

// ValidateToken resolves an active, unexpired token and records its use.
func (ts *TokenStorage) ValidateToken(ctx context.Context, rawToken string) (*TokenInfo, error) {
	if rawToken == "" {
		return nil, ErrInvalidToken
	}

	row := ts.db.QueryRowContext(ctx, selectToken+` WHERE hashed_token = ? AND is_active = 1`, HashToken(rawToken))
	info, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}

	now := ts.now()
	if info.Expired(now) {
		return nil, ErrExpiredToken
	}

	// Best effort; a failed timestamp update does not reject the request.
	if _, err := ts.db.ExecContext(ctx, `UPDATE auth_tokens SET last_used_at = ? WHERE token_id = ?`,
		formatTime(now), info.TokenID); err == nil {
		info.LastUsedAt = &now
	}
	return info, nil
}

// GetTokenInfo retrieves public information about a token by ID
func (ts *TokenStorage) GetTokenInfo(ctx context.Context, tokenID string) (*TokenInfo, error) {
	row := ts.db.QueryRowContext(ctx, selectToken+` WHERE token_id = ?`, tokenID)
	info, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
		}
		return nil, fmt.Errorf("failed to get token info: %w", err)
	}
	return info, nil
}

// ListTokens returns tokens newest first.
func (ts *TokenStorage) ListTokens(ctx context.Context, includeInactive bool) ([]TokenInfo, error) {
	query := selectToken
	if !includeInactive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := ts.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []TokenInfo
	for rows.Next() {
		info, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tokens, nil
}

// RevokeToken deactivates a token.
func (ts *TokenStorage) RevokeToken(ctx context.Context, tokenID string) error {
	result, err := ts.db.ExecContext(ctx, `UPDATE auth_tokens SET is_active = 0 WHERE token_id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revocation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	return nil
}

const selectToken = `
	SELECT token_id, client_name, created_at, expires_at, last_used_at, is_active, metadata
	FROM auth_tokens`

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*TokenInfo, error) {
	var (
		info              TokenInfo
		created           string
		expires, lastUsed sql.NullString
		metadataJSON      string
	)
	if err := s.Scan(&info.TokenID, &info.ClientName, &created, &expires, &lastUsed, &info.IsActive, &metadataJSON); err != nil {
		return nil, err
	}

	info.CreatedAt = parseTime(created)
	if expires.Valid {
		t := parseTime(expires.String)
		info.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := parseTime(lastUsed.String)
		info.LastUsedAt = &t
	}
	if err := json.Unmarshal([]byte(metadataJSON), &info.Metadata); err != nil || info.Metadata == nil {
		info.Metadata = make(map[string]string)
	}
	return &info, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
