package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"gorm.io/gorm"
)

var ErrNoActiveConfig = errors.New("no active integration config for this type")

// IntegrationConfig describes one external endpoint. The request/response
// shapes are supplied as mapping trees (data, not code), so new providers
// can be onboarded without a deploy. Immutable during a single job's
// lifetime; read-only to the pipeline.
type IntegrationConfig struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string          `gorm:"size:255;not null" json:"name" binding:"required"`
	ConfigType IntegrationType `gorm:"size:20;not null;index" json:"config_type" binding:"required"`
	ApiUrl     string          `gorm:"size:512;not null" json:"api_url" binding:"required"`

	// Auth scheme: none / basic / bearer / api_key.
	AuthType     string `gorm:"size:20;not null;default:'none'" json:"auth_type"`
	AuthUsername string `gorm:"size:255" json:"auth_username"`
	AuthPassword string `gorm:"size:255" json:"auth_password"`
	AuthToken    string `gorm:"type:text" json:"auth_token"`
	ApiKeyHeader string `gorm:"size:100;default:'X-API-Key'" json:"api_key_header"`
	ApiKey       string `gorm:"size:255" json:"api_key"`

	// Static headers. A value wrapped in {{...}} is resolved through the
	// mapping context at build time; plain strings pass through unchanged.
	HeadersJSON []byte `gorm:"type:json" json:"headers"`

	RequestMappingJSON  []byte `gorm:"type:json" json:"request_mapping"`
	ResponseMappingJSON []byte `gorm:"type:json" json:"response_mapping"`

	RetryAttempts  int   `gorm:"default:2" json:"retry_attempts"`
	TimeoutSeconds int   `gorm:"default:30" json:"timeout_seconds"`
	IsActive       *bool `gorm:"not null;default:false;index" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetActiveConfig resolves the active config for one queue type. When more
// than one is active the most recently updated one wins, so the tiebreak is
// deterministic.
func GetActiveConfig(ctx context.Context, db *gorm.DB, businessId string, configType IntegrationType) (*IntegrationConfig, error) {
	if db == nil {
		db = config.GetDB().WithContext(ctx)
	}
	var cfg IntegrationConfig
	err := db.Where("business_id = ? AND config_type = ? AND is_active = ?", businessId, configType, true).
		Order("updated_at DESC").
		Limit(1).
		Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveConfig
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c IntegrationConfig) GetCursor() string {
	return c.CreatedAt.String()
}
