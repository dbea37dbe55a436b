package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileName is the configuration file name under the storage root.
const FileName = "config.json"

const backupStampLayout = "20060102T150405Z"

// Warning describes a recovered configuration problem.
type Warning struct {
	Problem    string `json:"problem"`
	BackupPath string `json:"backup_path"`
}

func (w *Warning) String() string {
	return fmt.Sprintf("invalid config moved to %s: %s", w.BackupPath, w.Problem)
}

// Manager reads and writes config.json under a storage root.
type Manager struct {
	dir string
	now func() time.Time
}

// NewManager returns a manager for the config file in dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, now: time.Now}
}

// Path returns the config file path.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, FileName)
}

// Load returns the stored configuration. A missing file is created with
// defaults. An unreadable, malformed or invalid file is renamed to a
// timestamped backup and replaced with defaults; the returned Warning
// describes that recovery. Only filesystem failures are returned as errors.
func (m *Manager) Load() (Config, *Warning, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Config{}, nil, fmt.Errorf("create config dir: %w", err)
	}

	raw, err := os.ReadFile(m.Path())
	if errors.Is(err, os.ErrNotExist) {
		cfg := Defaults()
		if err := m.Save(cfg); err != nil {
			return Config{}, nil, err
		}
		return cfg, nil, nil
	}
	if err != nil {
		return Config{}, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, problem := decode(raw)
	if problem == nil {
		return cfg, nil, nil
	}

	backup, err := m.backup()
	if err != nil {
		return Config{}, nil, err
	}
	cfg = Defaults()
	if err := m.Save(cfg); err != nil {
		return Config{}, nil, err
	}

	w := &Warning{Problem: problem.Error(), BackupPath: backup}
	slog.Warn("config invalid, defaults restored", "path", m.Path(), "backup", backup, "problem", w.Problem)
	return cfg, w, nil
}

// Save validates cfg and writes it atomically.
func (m *Manager) Save(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(m.dir, ".config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, m.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// decode parses raw over the defaults so omitted keys keep their default
// values. Unknown keys, trailing data and failed validation are problems.
func decode(raw []byte) (Config, error) {
	cfg := Defaults()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("parse: trailing data after config object")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// backup renames the current file to config.invalid-<stamp>.json.bak, adding
// a -n suffix when a backup with the same stamp already exists.
func (m *Manager) backup() (string, error) {
	stamp := m.now().UTC().Format(backupStampLayout)
	for n := 0; ; n++ {
		name := fmt.Sprintf("config.invalid-%s.json.bak", stamp)
		if n > 0 {
			name = fmt.Sprintf("config.invalid-%s-%d.json.bak", stamp, n)
		}
		dst := filepath.Join(m.dir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := os.Rename(m.Path(), dst); err != nil {
			return "", fmt.Errorf("backup invalid config: %w", err)
		}
		return dst, nil
	}
}
