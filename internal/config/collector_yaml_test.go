package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/autorepair/autorepair/internal/collector/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCollectorOverridesMissingFileIsNotError(t *testing.T) {
	out, err := LoadCollectorOverrides("")
	require.NoError(t, err)
	assert.Empty(t, out.Keywords)

	out, err = LoadCollectorOverrides(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, out.Keywords)
}

func TestLoadCollectorOverridesParsesKeywordsAndFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keywords:\n  - ERROR\n  - Exception\nfilter: strict\n"), 0o644))

	out, err := LoadCollectorOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR", "Exception"}, out.Keywords)
	assert.Equal(t, extractor.FilterStrict, out.Filter)
}

func TestLoadCollectorOverridesRejectsUnknownFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filter: aggressive\n"), 0o644))

	_, err := LoadCollectorOverrides(path)
	assert.Error(t, err)
}

func TestCollectorOverridesApplyFillsOnlyUnsetFields(t *testing.T) {
	cf := CollectorFile{Keywords: []string{"PANIC"}}
	o := CollectorOverrides{Keywords: []string{"ERROR"}, Filter: extractor.FilterLenient}

	o.Apply(&cf)

	assert.Equal(t, []string{"PANIC"}, cf.Keywords, "CLI-set keywords must not be overridden")
	assert.Equal(t, extractor.FilterLenient, cf.Filter, "unset filter should be filled from overrides")
}

func TestCollectorOverridesApplyNoOverridesLeavesZeroValue(t *testing.T) {
	cf := CollectorFile{}
	CollectorOverrides{}.Apply(&cf)

	assert.Empty(t, cf.Keywords)
	assert.Empty(t, cf.Filter)
}
