// Package config provides the application settings object.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	appDirName   = "lab-counter"
	settingsFile = "settings.yaml"
)

// Settings holds every user-adjustable setting. One instance is created at
// startup and passed explicitly to the pages and commands that need it.
type Settings struct {
	// Prediction
	Model      string                 `yaml:"model"`
	ClassCount int                    `yaml:"class_count"`
	Workers    int                    `yaml:"workers"`
	Models     map[string]ModelConfig `yaml:"models"`

	// Navigation boundary behavior: clamp or wrap
	Navigation string `yaml:"navigation"`

	Preview PreviewConfig `yaml:"preview"`
	Storage StorageConfig `yaml:"storage"`
	Eggs    EggConfig     `yaml:"eggs"`
	Oysters OysterConfig  `yaml:"oysters"`
	Export  ExportConfig  `yaml:"export"`
	Watch   WatchConfig   `yaml:"watch"`
	OCR     OCRConfig     `yaml:"ocr"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig parameterizes the contour counting model.
type ModelConfig struct {
	Threshold float64 `yaml:"threshold"` // 0 selects Otsu
	Invert    bool    `yaml:"invert"`    // objects darker than background
	MinArea   float64 `yaml:"min_area"`
	MaxArea   float64 `yaml:"max_area"`
	BlurSize  int     `yaml:"blur_size"`
}

// PreviewConfig sets the bounded preview size built for every item.
type PreviewConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// StorageConfig locates the item list sidecars and derived images.
type StorageConfig struct {
	ListsDir    string `yaml:"lists_dir"`
	FallbackDir string `yaml:"fallback_dir"`
	DerivedDir  string `yaml:"derived_dir"`
}

// EggConfig holds egg page conversion factors.
type EggConfig struct {
	DilutionFactor float64 `yaml:"dilution_factor"` // eggs per mL per counted egg
}

// OysterConfig holds oyster page conversion factors.
type OysterConfig struct {
	SampleVolumeML float64 `yaml:"sample_volume_ml"`
}

// ExportConfig controls CSV and SQLite exports.
type ExportConfig struct {
	Dir      string `yaml:"dir"`
	Template string `yaml:"template"` // CSV whose header lists target columns
	// Columns maps field names to export column headers.
	Columns map[string]string `yaml:"columns"`
}

// WatchConfig enables auto-adding images from a folder.
type WatchConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Page    string `yaml:"page"` // eggs or oysters
}

// OCRConfig configures label recognition.
type OCRConfig struct {
	Language string `yaml:"language"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// Default returns the default settings.
func Default() *Settings {
	dir := Dir()
	return &Settings{
		ClassCount: 1,
		Workers:    2,
		Models: map[string]ModelConfig{
			"eggs-light": {Invert: true, MinArea: 20, MaxArea: 2000, BlurSize: 5},
			"larvae":     {Invert: true, MinArea: 40, MaxArea: 5000, BlurSize: 7},
		},
		Navigation: "clamp",
		Preview:    PreviewConfig{Width: 1024, Height: 768},
		Storage: StorageConfig{
			ListsDir:    filepath.Join(dir, "lists"),
			FallbackDir: filepath.Join(os.TempDir(), appDirName, "lists"),
			DerivedDir:  filepath.Join(os.TempDir(), appDirName, "derived"),
		},
		Eggs:    EggConfig{DilutionFactor: 1},
		Oysters: OysterConfig{SampleVolumeML: 1},
		Export:  ExportConfig{Columns: map[string]string{}},
		Watch:   WatchConfig{Page: "eggs"},
		OCR:     OCRConfig{Language: "eng"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Dir returns the per-user configuration directory for the application.
func Dir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, appDirName)
}

// DefaultPath returns the default settings file location.
func DefaultPath() string {
	return filepath.Join(Dir(), settingsFile)
}

// Load reads settings from a YAML file. A missing file yields defaults.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.applyEnvOverrides()
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if s.Export.Columns == nil {
		s.Export.Columns = map[string]string{}
	}

	s.applyEnvOverrides()
	return s, nil
}

// Save writes settings to a YAML file.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("LAB_COUNTER_MODEL"); v != "" {
		s.Model = v
	}
	if v := os.Getenv("LAB_COUNTER_LOG_LEVEL"); v != "" {
		s.Logging.Level = v
	}
	if v := os.Getenv("LAB_COUNTER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Workers = n
		}
	}
}

// ValidNavigation lists the accepted navigation modes.
var ValidNavigation = []string{"clamp", "wrap"}

// Validate checks the settings for values the application cannot run with.
func (s *Settings) Validate() error {
	valid := false
	for _, n := range ValidNavigation {
		if s.Navigation == n {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid navigation mode: %q (valid: %v)", s.Navigation, ValidNavigation)
	}
	if s.ClassCount < 1 {
		return fmt.Errorf("class_count must be at least 1, got %d", s.ClassCount)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.Preview.Width < 1 || s.Preview.Height < 1 {
		return fmt.Errorf("invalid preview size %dx%d", s.Preview.Width, s.Preview.Height)
	}
	if s.Model != "" {
		if _, ok := s.Models[s.Model]; !ok {
			return fmt.Errorf("unknown model %q", s.Model)
		}
	}
	return nil
}

// ModelNames returns the configured model identifiers.
func (s *Settings) ModelNames() []string {
	names := make([]string, 0, len(s.Models))
	for name := range s.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnFor returns the export header for a field, defaulting to its name.
func (s *Settings) ColumnFor(field string) string {
	if col, ok := s.Export.Columns[field]; ok && col != "" {
		return col
	}
	return field
}

// Clone returns a deep copy, used by editors that apply changes atomically.
func (s *Settings) Clone() *Settings {
	c := *s
	c.Models = make(map[string]ModelConfig, len(s.Models))
	for k, v := range s.Models {
		c.Models[k] = v
	}
	c.Export.Columns = make(map[string]string, len(s.Export.Columns))
	for k, v := range s.Export.Columns {
		c.Export.Columns[k] = v
	}
	return &c
}
