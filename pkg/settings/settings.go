// Package settings keeps per-user defaults for the vlanhop CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// DefaultInventory is used when neither a flag nor a setting names one.
const DefaultInventory = "/etc/vlanhop/inventory.yaml"

// Settings holds persistent user preferences.
type Settings struct {
	// Inventory is the inventory file used when -i is not given.
	Inventory string `json:"inventory,omitempty"`

	// AuditLog is the JSON-lines audit file.
	AuditLog string `json:"audit_log,omitempty"`

	// User is recorded in audit events; defaults to $USER.
	User string `json:"user,omitempty"`

	// Parallel bounds concurrent sessions in check.
	Parallel int `json:"parallel,omitempty"`
}

// Dir returns ~/.vlanhop, or the working directory when there is no home.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".vlanhop")
}

// DefaultSettingsPath returns the settings file location.
func DefaultSettingsPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// Load reads settings from the default location.
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from path. A missing file yields empty settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to path, creating its directory.
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetInventory returns the inventory path with fallback.
func (s *Settings) GetInventory() string {
	if s.Inventory != "" {
		return s.Inventory
	}
	return DefaultInventory
}

// GetAuditLog returns the audit log path with fallback.
func (s *Settings) GetAuditLog() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	return filepath.Join(Dir(), "audit.log")
}

// GetUser returns the audit user with fallback to $USER.
func (s *Settings) GetUser() string {
	if s.User != "" {
		return s.User
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// GetParallel returns the check concurrency with fallback.
func (s *Settings) GetParallel() int {
	if s.Parallel > 0 {
		return s.Parallel
	}
	return 8
}

// Keys lists the settable keys.
func Keys() []string {
	keys := []string{"inventory", "audit_log", "user", "parallel"}
	sort.Strings(keys)
	return keys
}

// Set assigns a key by name. An empty value clears it.
func (s *Settings) Set(key, value string) error {
	switch key {
	case "inventory":
		s.Inventory = value
	case "audit_log":
		s.AuditLog = value
	case "user":
		s.User = value
	case "parallel":
		if value == "" {
			s.Parallel = 0
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("parallel must be a positive integer, got %q", value)
		}
		s.Parallel = n
	default:
		return fmt.Errorf("unknown setting %q (known: %v)", key, Keys())
	}
	return nil
}

// Get returns the stored value of a key; empty when unset.
func (s *Settings) Get(key string) (string, error) {
	switch key {
	case "inventory":
		return s.Inventory, nil
	case "audit_log":
		return s.AuditLog, nil
	case "user":
		return s.User, nil
	case "parallel":
		if s.Parallel == 0 {
			return "", nil
		}
		return strconv.Itoa(s.Parallel), nil
	}
	return "", fmt.Errorf("unknown setting %q (known: %v)", key, Keys())
}

// Clear resets all settings.
func (s *Settings) Clear() {
	*s = Settings{}
}
