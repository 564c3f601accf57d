package db

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// UsageLog is one immutable row of the usage log. The schema mirrors the
// portal's reporting queries: lookups by record, by time, by event type and
// by recipient are all indexed.
type UsageLog struct {
	ID string `gorm:"primaryKey;size:36"`

	RecordID   string `gorm:"size:255;not null;index:idx_usage_logs_record,priority:2"`
	RecordType string `gorm:"size:16;not null;index:idx_usage_logs_record,priority:1;index:idx_usage_logs_event,priority:2"`
	EventType  string `gorm:"size:32;not null;index:idx_usage_logs_event,priority:1"`

	ActorID        string `gorm:"size:64"`
	ActorEmail     string `gorm:"size:255"`
	RecipientEmail string `gorm:"size:255;index:idx_usage_logs_recipient"`
	Status         string `gorm:"size:64"`
	Source         string `gorm:"size:64"`

	// Metadata holds caller-supplied key/value pairs plus the server-stamped
	// ingestedAt.
	Metadata datatypes.JSONMap `gorm:"type:json"`

	CreatedAt  time.Time `gorm:"not null;index:idx_usage_logs_record,priority:3;index:idx_usage_logs_created"`
	IngestedAt time.Time `gorm:"not null"`
}

// UsageBucket stores pre-aggregated hourly counts per (record type, event
// type) for the portal summary chart. Filled by the summary worker.
type UsageBucket struct {
	ID uint `gorm:"primaryKey"`

	RecordType  string    `gorm:"uniqueIndex:idx_usage_bucket_unique,priority:1;size:16;not null"`
	EventType   string    `gorm:"uniqueIndex:idx_usage_bucket_unique,priority:2;size:32;not null"`
	BucketStart time.Time `gorm:"uniqueIndex:idx_usage_bucket_unique,priority:3;not null"` // start of the hour (UTC)

	EventCount  int64 `gorm:"not null"` // events in this hour
	RecordCount int64 `gorm:"not null"` // distinct record ids in this hour
}

// SMTPConfig is an outbound mail account. Bearer tokens issued against it
// authorize POST /api/send-email for its FromEmail.
type SMTPConfig struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name      string `gorm:"size:128;not null" json:"name"`
	Host      string `gorm:"size:255;not null" json:"host"`
	Port      int    `gorm:"not null" json:"port"`
	Username  string `gorm:"size:255" json:"username"`
	Password  string `gorm:"size:255" json:"-"`
	FromEmail string `gorm:"size:255;not null;index" json:"fromEmail"`
	FromName  string `gorm:"size:255" json:"fromName"`
	// Secure selects implicit TLS; otherwise STARTTLS is used when offered.
	Secure bool `gorm:"default:false" json:"secure"`
	Active bool `gorm:"not null" json:"active"`

	AuthTokens []AuthToken `gorm:"-" json:"authTokens"`
}

// PDFConfig is an HTML-to-PDF client. Requests authenticated with one of its
// tokens must come from a whitelisted IP when the whitelist is non-empty.
type PDFConfig struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name        string         `gorm:"size:128;not null" json:"name"`
	IPWhitelist datatypes.JSON `gorm:"type:json" json:"ipWhitelist"`
	Active      bool           `gorm:"not null" json:"active"`

	AuthTokens []AuthToken `gorm:"-" json:"authTokens"`
}

// Whitelist decodes IPWhitelist. A missing or malformed value is treated as
// an empty whitelist.
func (c *PDFConfig) Whitelist() []string {
	if len(c.IPWhitelist) == 0 {
		return nil
	}
	var ips []string
	if err := json.Unmarshal(c.IPWhitelist, &ips); err != nil {
		return nil
	}
	return ips
}

// SetWhitelist encodes ips into IPWhitelist.
func (c *PDFConfig) SetWhitelist(ips []string) {
	if ips == nil {
		ips = []string{}
	}
	b, _ := json.Marshal(ips)
	c.IPWhitelist = datatypes.JSON(b)
}

// AllowsIP reports whether ip may use this config. An empty whitelist
// allows every address.
func (c *PDFConfig) AllowsIP(ip string) bool {
	ips := c.Whitelist()
	if len(ips) == 0 {
		return true
	}
	for _, allowed := range ips {
		if allowed == ip {
			return true
		}
	}
	return false
}
