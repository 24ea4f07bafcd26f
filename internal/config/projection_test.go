package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const projectionYAML = `
projection:
  agingBuckets:
    - label: fresh
      minDays: 0
      maxDays: 30
      obsolescenceRate: 0
    - label: stale
      minDays: 31
      obsolescenceRate: 0.4
  abc:
    a: 0.7
    b: 0.9
  turnoverWindowDays: 90
`

func TestProjectionConfigHolderLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projection.yml")
	require.NoError(t, os.WriteFile(path, []byte(projectionYAML), 0o600))

	holder, err := NewProjectionConfigHolder(Config{ProjectionConfig: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	require.Len(t, cfg.AgingBuckets, 2)
	assert.Equal(t, "stale", cfg.AgingBuckets[1].Label)
	assert.Nil(t, cfg.AgingBuckets[1].MaxDays)
	assert.InDelta(t, 0.4, cfg.AgingBuckets[1].ObsolescenceRate, 1e-9)
	assert.InDelta(t, 0.7, cfg.ABC.A, 1e-9)
	assert.Equal(t, 90, cfg.TurnoverWindowDays)
}

func TestProjectionConfigHolderReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projection.yml")
	require.NoError(t, os.WriteFile(path, []byte(projectionYAML), 0o600))

	holder, err := NewProjectionConfigHolder(Config{ProjectionConfig: path}, zap.NewNop())
	require.NoError(t, err)

	updated := `
projection:
  agingBuckets:
    - label: all
      minDays: 0
      obsolescenceRate: 0.2
  abc:
    a: 0.5
    b: 0.8
  turnoverWindowDays: 30
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		return holder.Get().TurnoverWindowDays == 30
	}, 5*time.Second, 50*time.Millisecond)
	assert.Len(t, holder.Get().AgingBuckets, 1)
}

func TestValidateProjectionConfigRejectsGaps(t *testing.T) {
	cfg := DefaultProjectionConfig()
	cfg.AgingBuckets[1].MinDays = 95

	assert.Error(t, ValidateProjectionConfig(cfg))
	assert.NoError(t, ValidateProjectionConfig(DefaultProjectionConfig()))
}

func TestAgingBucketContains(t *testing.T) {
	cfg := DefaultProjectionConfig()

	assert.True(t, cfg.AgingBuckets[0].Contains(0))
	assert.True(t, cfg.AgingBuckets[0].Contains(90))
	assert.False(t, cfg.AgingBuckets[0].Contains(91))
	assert.True(t, cfg.AgingBuckets[3].Contains(5000))
}
