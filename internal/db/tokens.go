package db

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"gorm.io/gorm"

	"docrelay/internal/ratelimit"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// TokenKind names the config table a token belongs to.
type TokenKind string

const (
	TokenSMTP TokenKind = "smtp"
	TokenPDF  TokenKind = "pdf"
)

// AuthToken is a bearer token for the public API. Each token belongs to one
// SMTP or PDF config.
type AuthToken struct {
	ID uint `gorm:"primaryKey" json:"id"`

	CreatedAt time.Time `json:"createdAt"`

	Kind     TokenKind `gorm:"size:8;not null;index:idx_auth_token_owner,priority:1" json:"kind"`
	ConfigID string    `gorm:"size:36;not null;index:idx_auth_token_owner,priority:2" json:"configId"`

	// Name is a user-friendly identifier for this token (e.g. "billing-service").
	Name string `gorm:"size:128;not null" json:"name"`

	// Token is the bearer value.
	Token string `gorm:"uniqueIndex;size:255;not null" json:"token"`
}

// GenerateToken returns a new random bearer token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "dr_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// CreateToken issues a token for the config identified by kind and configID.
func CreateToken(ctx context.Context, db *gorm.DB, kind TokenKind, configID, name string) (*AuthToken, error) {
	value, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	tok := &AuthToken{Kind: kind, ConfigID: configID, Name: name, Token: value}
	if err := db.WithContext(ctx).Create(tok).Error; err != nil {
		return nil, err
	}
	return tok, nil
}

// DeleteToken removes one token of a config.
func DeleteToken(ctx context.Context, db *gorm.DB, kind TokenKind, configID string, tokenID uint) error {
	res := db.WithContext(ctx).
		Where("id = ? AND kind = ? AND config_id = ?", tokenID, kind, configID).
		Delete(&AuthToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// tokensFor loads the tokens of the given configs keyed by config id.
func tokensFor(ctx context.Context, db *gorm.DB, kind TokenKind, configIDs []string) (map[string][]AuthToken, error) {
	out := make(map[string][]AuthToken, len(configIDs))
	if len(configIDs) == 0 {
		return out, nil
	}
	var toks []AuthToken
	if err := db.WithContext(ctx).
		Where("kind = ? AND config_id IN ?", kind, configIDs).
		Order("id ASC").
		Find(&toks).Error; err != nil {
		return nil, err
	}
	for _, t := range toks {
		out[t.ConfigID] = append(out[t.ConfigID], t)
	}
	return out, nil
}

// matchingConfigIDs returns the ids of configs owning a token equal to
// presented. Every candidate is compared so the time taken does not depend
// on which token matched.
func matchingConfigIDs(ctx context.Context, db *gorm.DB, kind TokenKind, presented string) ([]string, error) {
	var toks []AuthToken
	if err := db.WithContext(ctx).Where("kind = ?", kind).Find(&toks).Error; err != nil {
		return nil, err
	}
	var ids []string
	for _, t := range toks {
		if ratelimit.SecureEqual(t.Token, presented) {
			ids = append(ids, t.ConfigID)
		}
	}
	return ids, nil
}

// FindSMTPConfigByToken resolves a bearer token and sender address to an
// active SMTP config. ErrNotFound covers every mismatch.
func FindSMTPConfigByToken(ctx context.Context, db *gorm.DB, token, fromEmail string) (*SMTPConfig, error) {
	ids, err := matchingConfigIDs(ctx, db, TokenSMTP, token)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	var cfg SMTPConfig
	err = db.WithContext(ctx).
		Where("id IN ? AND from_email = ? AND active = ?", ids, fromEmail, true).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindPDFConfigByToken resolves a bearer token to its PDF config. Inactive
// configs are returned so callers can report them distinctly.
func FindPDFConfigByToken(ctx context.Context, db *gorm.DB, token string) (*PDFConfig, error) {
	ids, err := matchingConfigIDs(ctx, db, TokenPDF, token)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	var cfg PDFConfig
	err = db.WithContext(ctx).Where("id IN ?", ids).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
