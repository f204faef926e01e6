package cfg

import "fmt"

// Rationalize applies cross-field defaulting the way gcsfuse's
// cfg.Rationalize does: resolve shortcut flags (here, -verbose) into their
// canonical field before validation runs.
func Rationalize(c *Config) {
	if c.Verbose && c.LogSeverity.Rank() > DebugLogSeverity.Rank() {
		c.LogSeverity = DebugLogSeverity
	}
}

// Validate rejects a Config that cannot be mounted, matching the kind of
// up-front checks gcsfuse's cfg.Validate performs before a mount is
// attempted rather than failing deep inside the engine.
func Validate(c *Config) error {
	switch c.BlockSize {
	case 1024, 2048, 4096:
	default:
		return fmt.Errorf("cfg: unsupported block size %d (must be 1024, 2048, or 4096)", c.BlockSize)
	}
	if c.BlockSize%c.IOUnit != 0 {
		return fmt.Errorf("cfg: block size %d is not a multiple of io-unit %d", c.BlockSize, c.IOUnit)
	}
	if !c.InMemory && c.DevicePath == "" {
		return fmt.Errorf("cfg: device path is required unless -in-memory is set")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("cfg: mount point is required")
	}
	if c.DiskSize < 32<<10 {
		return fmt.Errorf("cfg: disk size %d is below the minimum mountable size of 32KiB", c.DiskSize)
	}
	if c.UseMkfs && c.LayoutFile != "" {
		return fmt.Errorf("cfg: -use-mkfs and -layout-file are mutually exclusive format paths")
	}
	if !c.UseMkfs && c.LayoutFile == "" {
		return fmt.Errorf("cfg: -layout-file is required for native format (or pass -use-mkfs)")
	}
	if _, ok := severityRank[c.LogSeverity]; !ok {
		return fmt.Errorf("cfg: invalid log severity %q", c.LogSeverity)
	}
	return nil
}
