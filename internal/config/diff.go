package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; transport,
// audio-format, and pool-sizing changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when any session lifecycle tunable changed.
	SessionChanged bool
	NewSession     SessionConfig

	// ProvidersChanged lists capabilities ("stt", "tts", "classifier")
	// whose provider entry changed. Provider swaps apply to sessions
	// created after the reload.
	ProvidersChanged []string
}

// Empty reports whether the diff carries no applicable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && len(d.ProvidersChanged) == 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session != new.Session {
		d.SessionChanged = true
		d.NewSession = new.Session
	}

	if !providerEntryEqual(old.Providers.STT, new.Providers.STT) {
		d.ProvidersChanged = append(d.ProvidersChanged, "stt")
	}
	if !providerEntryEqual(old.Providers.TTS, new.Providers.TTS) {
		d.ProvidersChanged = append(d.ProvidersChanged, "tts")
	}
	if !providerEntryEqual(old.Providers.Classifier, new.Providers.Classifier) {
		d.ProvidersChanged = append(d.ProvidersChanged, "classifier")
	}

	return d
}

// providerEntryEqual compares two entries field by field. Options maps are
// compared shallowly by scalar values.
func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		if bv, ok := b.Options[k]; !ok || av != bv {
			return false
		}
	}
	return true
}
