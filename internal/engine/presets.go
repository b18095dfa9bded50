package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-apnea/internal/extractors"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// Built-in preset names.
const (
	PresetStrict   = "strict"
	PresetBalanced = "balanced"
	PresetLenient  = "lenient"
)

// PresetPack holds named false-negative parameter bundles.
type PresetPack struct {
	presets  map[string]extractors.FalseNegativeOptions
	fallback string
}

// PresetFile is the YAML root structure. Each preset only needs the fields it changes;
// the rest come from the built-in preset of the same name, or from balanced.
type PresetFile struct {
	Default string               `yaml:"default"`
	Presets map[string]yaml.Node `yaml:"presets"`
}

// BuiltinPresets returns the strict, balanced and lenient bundles. Stricter presets trade
// recall for precision through the FLG threshold, the peak gate and the minimum duration.
func BuiltinPresets() map[string]extractors.FalseNegativeOptions {
	balanced := extractors.DefaultFalseNegativeOptions()

	strict := balanced
	strict.FLThreshold = 0.7
	strict.PeakFLGLevelMin = 0.9
	strict.MinDurationSec = 30

	lenient := balanced
	lenient.FLThreshold = 0.3
	lenient.PeakFLGLevelMin = 0.5
	lenient.MinDurationSec = 10

	return map[string]extractors.FalseNegativeOptions{
		PresetStrict:   strict,
		PresetBalanced: balanced,
		PresetLenient:  lenient,
	}
}

// NewPresetPack returns a pack with the built-in presets only.
func NewPresetPack() *PresetPack {
	return &PresetPack{presets: BuiltinPresets(), fallback: PresetBalanced}
}

// LoadPresetPack reads presets from path on top of the built-ins. An empty path or a missing
// file yields the built-ins; a malformed file is an error.
func LoadPresetPack(path string, logger *slog.Logger) (*PresetPack, error) {
	pack := NewPresetPack()
	if path == "" {
		return pack, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("preset file not found, using built-in presets", slog.String("path", path))
			return pack, nil
		}
		return nil, err
	}
	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for name, node := range file.Presets {
		key := normalizePreset(name)
		opts, ok := pack.presets[key]
		if !ok {
			opts = extractors.DefaultFalseNegativeOptions()
		}
		if err := node.Decode(&opts); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		if err := opts.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		pack.presets[key] = opts
	}
	if file.Default != "" {
		key := normalizePreset(file.Default)
		if _, ok := pack.presets[key]; !ok {
			return nil, fmt.Errorf("default preset %q is not defined", file.Default)
		}
		pack.fallback = key
	}
	logger.Info("loaded preset pack", slog.String("path", path), slog.Int("presets", len(pack.presets)))
	return pack, nil
}

// Lookup returns the options of the named preset. An empty name selects the pack default.
func (p *PresetPack) Lookup(name string) (extractors.FalseNegativeOptions, error) {
	if p == nil {
		p = NewPresetPack()
	}
	key := normalizePreset(name)
	if key == "" {
		key = p.fallback
	}
	opts, ok := p.presets[key]
	if !ok {
		return extractors.FalseNegativeOptions{}, utils.InvalidParameter("lookup preset", "unknown preset %q", name)
	}
	return opts, nil
}

// Names lists the available presets alphabetically.
func (p *PresetPack) Names() []string {
	names := make([]string, 0, len(p.presets))
	for name := range p.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the name used when a request names no preset.
func (p *PresetPack) Default() string {
	return p.fallback
}

func normalizePreset(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
