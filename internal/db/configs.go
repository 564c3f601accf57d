package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListSMTPConfigs returns every SMTP config with its tokens, newest first.
func ListSMTPConfigs(ctx context.Context, db *gorm.DB) ([]SMTPConfig, error) {
	var cfgs []SMTPConfig
	if err := db.WithContext(ctx).Order("created_at DESC, id ASC").Find(&cfgs).Error; err != nil {
		return nil, err
	}
	ids := make([]string, len(cfgs))
	for i := range cfgs {
		ids[i] = cfgs[i].ID
	}
	toks, err := tokensFor(ctx, db, TokenSMTP, ids)
	if err != nil {
		return nil, err
	}
	for i := range cfgs {
		cfgs[i].AuthTokens = nonNilTokens(toks[cfgs[i].ID])
	}
	return cfgs, nil
}

// GetSMTPConfig loads one SMTP config with its tokens.
func GetSMTPConfig(ctx context.Context, db *gorm.DB, id string) (*SMTPConfig, error) {
	var cfg SMTPConfig
	if err := db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	toks, err := tokensFor(ctx, db, TokenSMTP, []string{cfg.ID})
	if err != nil {
		return nil, err
	}
	cfg.AuthTokens = nonNilTokens(toks[cfg.ID])
	return &cfg, nil
}

// CreateSMTPConfig assigns an id and inserts cfg.
func CreateSMTPConfig(ctx context.Context, db *gorm.DB, cfg *SMTPConfig) error {
	cfg.ID = uuid.NewString()
	cfg.AuthTokens = []AuthToken{}
	return db.WithContext(ctx).Create(cfg).Error
}

// SaveSMTPConfig writes every column of an existing config.
func SaveSMTPConfig(ctx context.Context, db *gorm.DB, cfg *SMTPConfig) error {
	return db.WithContext(ctx).Save(cfg).Error
}

// DeleteSMTPConfig removes a config and its tokens.
func DeleteSMTPConfig(ctx context.Context, db *gorm.DB, id string) error {
	return deleteConfig(ctx, db, &SMTPConfig{}, TokenSMTP, id)
}

// ListPDFConfigs returns every PDF config with its tokens, newest first.
func ListPDFConfigs(ctx context.Context, db *gorm.DB) ([]PDFConfig, error) {
	var cfgs []PDFConfig
	if err := db.WithContext(ctx).Order("created_at DESC, id ASC").Find(&cfgs).Error; err != nil {
		return nil, err
	}
	ids := make([]string, len(cfgs))
	for i := range cfgs {
		ids[i] = cfgs[i].ID
	}
	toks, err := tokensFor(ctx, db, TokenPDF, ids)
	if err != nil {
		return nil, err
	}
	for i := range cfgs {
		cfgs[i].AuthTokens = nonNilTokens(toks[cfgs[i].ID])
	}
	return cfgs, nil
}

// GetPDFConfig loads one PDF config with its tokens.
func GetPDFConfig(ctx context.Context, db *gorm.DB, id string) (*PDFConfig, error) {
	var cfg PDFConfig
	if err := db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	toks, err := tokensFor(ctx, db, TokenPDF, []string{cfg.ID})
	if err != nil {
		return nil, err
	}
	cfg.AuthTokens = nonNilTokens(toks[cfg.ID])
	return &cfg, nil
}

// CreatePDFConfig assigns an id and inserts cfg.
func CreatePDFConfig(ctx context.Context, db *gorm.DB, cfg *PDFConfig) error {
	cfg.ID = uuid.NewString()
	cfg.AuthTokens = []AuthToken{}
	if cfg.IPWhitelist == nil {
		cfg.SetWhitelist(nil)
	}
	return db.WithContext(ctx).Create(cfg).Error
}

// SavePDFConfig writes every column of an existing config.
func SavePDFConfig(ctx context.Context, db *gorm.DB, cfg *PDFConfig) error {
	return db.WithContext(ctx).Save(cfg).Error
}

// DeletePDFConfig removes a config and its tokens.
func DeletePDFConfig(ctx context.Context, db *gorm.DB, id string) error {
	return deleteConfig(ctx, db, &PDFConfig{}, TokenPDF, id)
}

func deleteConfig(ctx context.Context, db *gorm.DB, model any, kind TokenKind, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("kind = ? AND config_id = ?", kind, id).Delete(&AuthToken{}).Error
	})
}

func nonNilTokens(toks []AuthToken) []AuthToken {
	if toks == nil {
		return []AuthToken{}
	}
	return toks
}
