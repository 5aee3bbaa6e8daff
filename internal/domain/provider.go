package domain

import (
	"fmt"
	"strings"
)

// ProviderType is the failover role of a configured provider.
type ProviderType int

const (
	ProviderDisabled ProviderType = iota
	ProviderPooled
	ProviderBackupAndStats
	ProviderBackupOnly
)

// FailoverTiers lists the provider types in the order they are tried.
var FailoverTiers = []ProviderType{ProviderPooled, ProviderBackupAndStats, ProviderBackupOnly}

func (t ProviderType) String() string {
	switch t {
	case ProviderPooled:
		return "pooled"
	case ProviderBackupAndStats:
		return "backup_and_stats"
	case ProviderBackupOnly:
		return "backup_only"
	default:
		return "disabled"
	}
}

// ParseProviderType parses the configuration spelling of a provider type.
// An empty string means pooled.
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pooled":
		return ProviderPooled, nil
	case "backup_and_stats", "backup-and-stats":
		return ProviderBackupAndStats, nil
	case "backup_only", "backup-only", "backup":
		return ProviderBackupOnly, nil
	case "disabled":
		return ProviderDisabled, nil
	default:
		return ProviderDisabled, fmt.Errorf("unsupported provider type: %s", s)
	}
}

// UnmarshalText lets configuration decoders read provider types by name.
func (t *ProviderType) UnmarshalText(text []byte) error {
	parsed, err := ParseProviderType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t ProviderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ProviderConfig describes one segment provider.
type ProviderConfig struct {
	Name           string       `mapstructure:"name" json:"name"`
	Type           ProviderType `mapstructure:"type" json:"type"`
	Backend        string       `mapstructure:"backend" json:"backend"`
	Bucket         string       `mapstructure:"bucket" json:"bucket"`
	Region         string       `mapstructure:"region" json:"region,omitempty"`
	Endpoint       string       `mapstructure:"endpoint" json:"endpoint,omitempty"`
	AccessKey      string       `mapstructure:"access_key" json:"-"`
	SecretKey      string       `mapstructure:"secret_key" json:"-"`
	MaxConnections int          `mapstructure:"max_connections" json:"max_connections"`
}

// Enabled reports whether the provider takes part in segment retrieval.
func (p ProviderConfig) Enabled() bool {
	return p.Type != ProviderDisabled && p.MaxConnections > 0
}
