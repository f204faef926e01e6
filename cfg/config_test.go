package cfg_test

import (
	"testing"

	"github.com/chiro2001/ext2fuse/cfg"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsSeedsDefaults(t *testing.T) {
	c := cfg.Config{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs, &c)

	d := cfg.Default()
	assert.Equal(t, d.BlockSize, c.BlockSize)
	assert.Equal(t, d.IOUnit, c.IOUnit)
	assert.Equal(t, d.CacheSize, c.CacheSize)
}

func TestValidateRejectsBadBlockSize(t *testing.T) {
	c := cfg.Default()
	c.InMemory = true
	c.MountPoint = "/mnt"
	c.UseMkfs = true
	c.BlockSize = 3000

	err := cfg.Validate(&c)

	require.Error(t, err)
}

func TestValidateRequiresDeviceOrInMemory(t *testing.T) {
	c := cfg.Default()
	c.MountPoint = "/mnt"
	c.UseMkfs = true

	err := cfg.Validate(&c)

	require.Error(t, err)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := cfg.Default()
	c.InMemory = true
	c.MountPoint = "/mnt"
	c.UseMkfs = true

	err := cfg.Validate(&c)

	require.NoError(t, err)
}

func TestRationalizeVerboseRaisesSeverity(t *testing.T) {
	c := cfg.Default()
	c.Verbose = true
	c.LogSeverity = cfg.InfoLogSeverity

	cfg.Rationalize(&c)

	assert.Equal(t, cfg.DebugLogSeverity, c.LogSeverity)
}

func TestOctalRoundTrip(t *testing.T) {
	var o cfg.Octal
	require.NoError(t, o.UnmarshalText([]byte("644")))
	assert.Equal(t, cfg.Octal(0o644), o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "644", string(text))
}

func TestLogSeverityRank(t *testing.T) {
	assert.Less(t, cfg.TraceLogSeverity.Rank(), cfg.DebugLogSeverity.Rank())
	assert.Less(t, cfg.ErrorLogSeverity.Rank(), cfg.OffLogSeverity.Rank())
	assert.Equal(t, -1, cfg.LogSeverity("bogus").Rank())
}
