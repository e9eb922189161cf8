package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/cogbattery/internal/model"
)

// SetMetadata upserts a key-value pair in the archive_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO archive_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM archive_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetArchiveInfo records the administration settings of the archive.
func (s *Store) SetArchiveInfo(info model.ArchiveInfo) error {
	battery := ""
	if info.Battery != nil {
		b, err := json.Marshal(info.Battery)
		if err != nil {
			return fmt.Errorf("marshal battery config: %w", err)
		}
		battery = string(b)
	}
	pairs := []struct{ k, v string }{
		{"prompt_variant", info.PromptVariant},
		{"grading_model", info.GradingModel},
		{"battery_config", battery},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetArchiveInfo reads the administration settings from metadata.
func (s *Store) GetArchiveInfo() (model.ArchiveInfo, error) {
	var info model.ArchiveInfo
	var err error

	if info.PromptVariant, err = s.GetMetadata("prompt_variant"); err != nil {
		return info, err
	}
	if info.GradingModel, err = s.GetMetadata("grading_model"); err != nil {
		return info, err
	}
	battery, err := s.GetMetadata("battery_config")
	if err != nil {
		return info, err
	}
	if battery != "" {
		var cfg model.BatteryConfig
		if err := json.Unmarshal([]byte(battery), &cfg); err != nil {
			return info, fmt.Errorf("decode battery config: %w", err)
		}
		info.Battery = &cfg
	}
	return info, nil
}
