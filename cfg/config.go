package cfg

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LatencyConfig injects synthetic per-operation sleeps into the raw block
// device, for exercising the cache and the FUSE layer under slow-device
// conditions without a real disk.
type LatencyConfig struct {
	Read  time.Duration `yaml:"read" mapstructure:"read"`
	Write time.Duration `yaml:"write" mapstructure:"write"`
	Seek  time.Duration `yaml:"seek" mapstructure:"seek"`
}

// Config is the full set of options the CLI binds from flags, optionally
// overridden by a YAML file, before a mount is attempted. A single Config
// value is passed explicitly through the mount call chain; nothing here is
// read from package-level state, so two mounts in one process (e.g. in
// tests) never interfere (SPEC_FULL.md §9).
type Config struct {
	// Device geometry and backing store.
	DevicePath string `yaml:"device-path" mapstructure:"device-path"`
	MountPoint string `yaml:"mount-point" mapstructure:"mount-point"`
	DiskSize   uint64 `yaml:"disk-size" mapstructure:"disk-size"`
	IOUnit     uint32 `yaml:"io-unit" mapstructure:"io-unit"`
	BlockSize  uint32 `yaml:"block-size" mapstructure:"block-size"`
	InMemory   bool   `yaml:"in-memory" mapstructure:"in-memory"`

	// Format/mount behavior.
	ForceFormat bool   `yaml:"force-format" mapstructure:"force-format"`
	UseMkfs     bool   `yaml:"use-mkfs" mapstructure:"use-mkfs"`
	LayoutFile  string `yaml:"layout-file" mapstructure:"layout-file"`
	InodeCount  uint32 `yaml:"inode-count" mapstructure:"inode-count"`
	ReadOnly    bool   `yaml:"read-only" mapstructure:"read-only"`

	// Cache (C2).
	CacheEnable bool   `yaml:"cache-enable" mapstructure:"cache-enable"`
	CacheSize   uint64 `yaml:"cache-size" mapstructure:"cache-size"`

	// Synthetic latency injection (C1).
	LatencyEnable bool          `yaml:"latency-enable" mapstructure:"latency-enable"`
	Latency       LatencyConfig `yaml:"latency" mapstructure:"latency"`

	// Logging (C10).
	Verbose     bool        `yaml:"verbose" mapstructure:"verbose"`
	LogSeverity LogSeverity `yaml:"log-severity" mapstructure:"log-severity"`
	LogFormat   LogFormat   `yaml:"log-format" mapstructure:"log-format"`
	LogFile     string      `yaml:"log-file" mapstructure:"log-file"`

	// DirMode is the permission bits given to the root directory of a
	// freshly formatted volume. FileMode is decoded but not read by the
	// engine; nodes created through the host adapter take the request's
	// mode.
	FileMode Octal `yaml:"file-mode" mapstructure:"file-mode"`
	DirMode  Octal `yaml:"dir-mode" mapstructure:"dir-mode"`

	// MetricsAddr, when non-empty, serves the prometheus registry over
	// HTTP at that address (e.g. ":9100"), in the idiom of gcsfuse's own
	// metrics-exporter wiring.
	MetricsAddr string `yaml:"metrics-addr" mapstructure:"metrics-addr"`
}

// Default returns the configuration defaults, matching the concrete
// end-to-end scenario geometry named in SPEC_FULL.md §8 (4 MiB device,
// 1024-byte blocks, 512-byte IO unit) except where noted.
func Default() Config {
	return Config{
		DiskSize:    4 << 20,
		IOUnit:      512,
		BlockSize:   1024,
		InodeCount:  1024,
		CacheEnable: true,
		CacheSize:   256,
		LogSeverity: InfoLogSeverity,
		LogFormat:   LogFormatText,
		FileMode:    0644,
		DirMode:     0755,
	}
}

// BindFlags registers every Config field onto fs, seeded with Default()'s
// values, in the idiom of gcsfuse's cmd/flags.go pflag registration.
func BindFlags(fs *pflag.FlagSet, c *Config) {
	d := Default()
	fs.StringVar(&c.DevicePath, "device", d.DevicePath, "path to the backing block-device file")
	fs.StringVar(&c.MountPoint, "mount-point", d.MountPoint, "directory to mount the filesystem at")
	fs.Uint64Var(&c.DiskSize, "disk-size", d.DiskSize, "virtual device size in bytes, for a fresh file-backed or in-memory device")
	fs.Uint32Var(&c.IOUnit, "io-unit", d.IOUnit, "device IO unit size in bytes")
	fs.Uint32Var(&c.BlockSize, "block-size", d.BlockSize, "filesystem block size in bytes (1024, 2048, or 4096)")
	fs.BoolVar(&c.InMemory, "in-memory", d.InMemory, "back the device with an in-memory buffer instead of a file")

	fs.BoolVar(&c.ForceFormat, "force-format", d.ForceFormat, "reformat even if the device already carries a valid superblock")
	fs.BoolVar(&c.UseMkfs, "use-mkfs", d.UseMkfs, "format via the external mkfs.ext2 helper instead of natively")
	fs.StringVar(&c.LayoutFile, "layout-file", d.LayoutFile, "path to the declarative layout file used for native format")
	fs.Uint32Var(&c.InodeCount, "inode-count", d.InodeCount, "total inode count for a freshly formatted volume")
	fs.BoolVar(&c.ReadOnly, "read-only", d.ReadOnly, "mount read-only")

	fs.BoolVar(&c.CacheEnable, "cache-enable", d.CacheEnable, "stack a write-back block cache above the raw device")
	fs.Uint64Var(&c.CacheSize, "cache-size", d.CacheSize, "number of blocks the cache may hold")

	fs.BoolVar(&c.LatencyEnable, "latency-enable", d.LatencyEnable, "inject synthetic per-operation latency into the raw device")
	fs.DurationVar(&c.Latency.Read, "latency-read", d.Latency.Read, "synthetic read latency")
	fs.DurationVar(&c.Latency.Write, "latency-write", d.Latency.Write, "synthetic write latency")
	fs.DurationVar(&c.Latency.Seek, "latency-seek", d.Latency.Seek, "synthetic seek latency")

	fs.BoolVarP(&c.Verbose, "verbose", "v", d.Verbose, "shortcut for --log-severity=DEBUG")
	fs.StringVar((*string)(&c.LogSeverity), "log-severity", string(d.LogSeverity), "log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF")
	fs.StringVar((*string)(&c.LogFormat), "log-format", string(d.LogFormat), "log output format: text or json")
	fs.StringVar(&c.LogFile, "log-file", d.LogFile, "log file path; rotated via lumberjack, defaults to stderr when empty")

	fs.StringVar(&c.MetricsAddr, "metrics-addr", d.MetricsAddr, "address to serve prometheus metrics on (e.g. :9100); disabled when empty")
}

// BindViper loads path (a YAML file) into v and decodes it over c, using the
// same mapstructure decode hooks gcsfuse registers for its own cfg.Config.
// An empty path is not an error and leaves c unchanged; a non-empty path
// must name a readable file.
func BindViper(v *viper.Viper, path string, c *Config) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("cfg: reading config file %q: %w", path, err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     c,
		TagName:    "yaml",
	})
	if err != nil {
		return err
	}
	return dec.Decode(v.AllSettings())
}
