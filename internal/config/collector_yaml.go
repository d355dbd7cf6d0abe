package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/autorepair/autorepair/internal/collector/extractor"
	"github.com/autorepair/autorepair/internal/foundation/normalization"
)

var filterLevelNormalizer = normalization.NewNormalizer(map[string]extractor.FilterLevel{
	"strict":   extractor.FilterStrict,
	"balanced": extractor.FilterBalanced,
	"lenient":  extractor.FilterLenient,
}, extractor.FilterBalanced)

// CollectorOverrides is an optional YAML sidecar file overriding the
// collector's keyword list and filter strictness without touching CLI
// flags — handy for operators who tune these per deployment without
// redeploying the unit file.
type CollectorOverrides struct {
	Keywords []string              `yaml:"keywords,omitempty"`
	Filter   extractor.FilterLevel `yaml:"filter,omitempty"`
}

// LoadCollectorOverrides reads path (if it exists) and returns the parsed
// overrides. A missing file is not an error: it means "no overrides".
func LoadCollectorOverrides(path string) (CollectorOverrides, error) {
	if path == "" {
		return CollectorOverrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CollectorOverrides{}, nil
		}
		return CollectorOverrides{}, err
	}
	var out CollectorOverrides
	if err := yaml.Unmarshal(data, &out); err != nil {
		return CollectorOverrides{}, err
	}
	if out.Filter != "" {
		level, err := filterLevelNormalizer.NormalizeWithError(string(out.Filter))
		if err != nil {
			return CollectorOverrides{}, err
		}
		out.Filter = level
	}
	return out, nil
}

// Apply merges non-empty override fields onto cf, CLI flags taking
// precedence over nothing (overrides only fill in what the operator didn't
// already set on the command line).
func (o CollectorOverrides) Apply(cf *CollectorFile) {
	if len(cf.Keywords) == 0 && len(o.Keywords) > 0 {
		cf.Keywords = o.Keywords
	}
	if cf.Filter == "" && o.Filter != "" {
		cf.Filter = o.Filter
	}
}
