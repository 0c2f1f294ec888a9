package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"squarecrop/internal/imageproc"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, imageproc.DefaultEncoding, cfg.Encoding)
	assert.True(t, cfg.Load.AutoOrient)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.False(t, cfg.LedgerEnabled())
	assert.False(t, cfg.EventsEnabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OUTPUT_FORMAT", "png")
	t.Setenv("OUTPUT_QUALITY", "0.5")
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("CROP_DB_DSN", "user:pass@tcp(db:3306)/crops")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, imageproc.Encoding{Format: imageproc.FormatPNG, Quality: 0.5}, cfg.Encoding)
	assert.Equal(t, 90*time.Second, cfg.SessionTTL)
	assert.True(t, cfg.LedgerEnabled())
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("OUTPUT_FORMAT", "png")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output_format", "jpeg", "")
	require.NoError(t, flags.Parse([]string{"--output_format=jpg"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, imageproc.FormatJPEG, cfg.Encoding.Format)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "squarecrop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_quality: 0.75\nport: \"9090\"\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.Encoding.Quality)
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("OUTPUT_FORMAT", "bmp")
	_, err := Load(nil)
	assert.ErrorIs(t, err, imageproc.ErrUnsupportedFormat)

	t.Setenv("OUTPUT_FORMAT", "jpeg")
	t.Setenv("OUTPUT_QUALITY", "2")
	_, err = Load(nil)
	assert.Error(t, err)

	t.Setenv("OUTPUT_QUALITY", "0.9")
	t.Setenv("PUBSUB_TOPIC", "crops")
	_, err = Load(nil)
	assert.ErrorContains(t, err, "GCP_PROJECT_ID")
}

func TestNormalizeFlagName(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.SetNormalizeFunc(NormalizeFlagName)
	flags.Float64("output_quality", 0.92, "")
	require.NoError(t, flags.Parse([]string{"--output-quality=0.3"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Encoding.Quality)
}
