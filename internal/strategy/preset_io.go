package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// PresetFormat is the serialization format for preset files.
type PresetFormat string

const (
	FormatYAML PresetFormat = "yaml"
	FormatJSON PresetFormat = "json"
)

// ExportPreset serializes a preset, stamping the schema version and
// refreshing the updated timestamp.
func ExportPreset(p *Preset, format PresetFormat) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("preset cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to export invalid preset: %w", err)
	}

	out := *p
	out.Metadata.SchemaVersion = PresetSchemaVersion
	out.Metadata.UpdatedAt = time.Now().UTC()
	if out.Metadata.ID == "" {
		out.Metadata.ID = uuid.New().String()
	}

	switch format {
	case FormatYAML:
		return yaml.Marshal(&out)
	case FormatJSON:
		return json.MarshalIndent(&out, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported preset format %q", format)
	}
}

// ImportPreset parses a preset from YAML or JSON (YAML parses both),
// migrates it to the current schema version, and validates it.
func ImportPreset(data []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse preset: %w", err)
	}

	if err := MigratePreset(&p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ExportPresetFile writes a preset to disk, inferring the format from the
// file extension (.json exports JSON, anything else YAML).
func ExportPresetFile(p *Preset, path string) error {
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}

	data, err := ExportPreset(p, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write preset file: %w", err)
	}
	return nil
}

// ImportPresetFile reads and parses a preset from disk.
func ImportPresetFile(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}
	return ImportPreset(data)
}

// MigratePreset upgrades a preset to the current schema version. Presets
// from a newer schema are rejected.
func MigratePreset(p *Preset) error {
	if p.Metadata.SchemaVersion == "" {
		p.Metadata.SchemaVersion = PresetSchemaVersion
		return nil
	}
	if p.Metadata.SchemaVersion == PresetSchemaVersion {
		return nil
	}

	current, err := parseSchemaVersion(p.Metadata.SchemaVersion)
	if err != nil {
		return err
	}
	target, err := parseSchemaVersion(PresetSchemaVersion)
	if err != nil {
		return err
	}
	if current.GreaterThan(target) {
		return fmt.Errorf("preset schema %s is newer than supported %s",
			p.Metadata.SchemaVersion, PresetSchemaVersion)
	}

	// No older schema versions exist yet; when 2.0 lands, stepwise
	// migrations slot in here keyed by source version.
	p.Metadata.SchemaVersion = PresetSchemaVersion
	return nil
}

// parseSchemaVersion accepts both "1.0" and full semver strings.
func parseSchemaVersion(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		parsed, err = semver.NewVersion(v + ".0")
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %q", v)
		}
	}
	return parsed, nil
}

// Validate checks a preset for structural problems before use.
func (p *Preset) Validate() error {
	if p.Metadata.Name == "" {
		return fmt.Errorf("preset metadata.name is required")
	}
	switch p.Fusion.Strategy {
	case "", "bayesian", "consensus", "time_decay", "hybrid":
	default:
		return fmt.Errorf("unknown fusion strategy %q", p.Fusion.Strategy)
	}
	if p.Fusion.MinConfidence < 0 || p.Fusion.MinConfidence > 1 {
		return fmt.Errorf("fusion min_confidence %f outside [0,1]", p.Fusion.MinConfidence)
	}
	if p.Fusion.MinAgreement < 0 || p.Fusion.MinAgreement > 1 {
		return fmt.Errorf("fusion min_agreement %f outside [0,1]", p.Fusion.MinAgreement)
	}
	if p.Risk.MaxRiskPerTrade < 0 || p.Risk.MaxRiskPerTrade > 1 {
		return fmt.Errorf("risk max_risk_per_trade %f outside [0,1]", p.Risk.MaxRiskPerTrade)
	}
	if p.Risk.MaxPortfolioRisk < 0 || p.Risk.MaxPortfolioRisk > 1 {
		return fmt.Errorf("risk max_portfolio_risk %f outside [0,1]", p.Risk.MaxPortfolioRisk)
	}
	if p.Risk.MinRR < 0 {
		return fmt.Errorf("risk min_rr must be non-negative")
	}
	return nil
}
