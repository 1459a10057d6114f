package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the VOX
// threshold, which the capture loop swaps between frames, and the log
// level. Everything else waits for the next restart.
type ConfigDiff struct {
	VoxThresholdChanged bool
	NewVoxThreshold     float64

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Empty reports whether no hot-reloadable field changed.
func (d ConfigDiff) Empty() bool {
	return !d.VoxThresholdChanged && !d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Vox.Threshold != new.Vox.Threshold {
		d.VoxThresholdChanged = true
		d.NewVoxThreshold = new.Vox.Threshold
	}

	if old.API.LogLevel != new.API.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.API.LogLevel
	}

	return d
}
