package config

// ConfigDiff describes what changed between two configs. Only fields safe
// to apply without restarting the graph compiler/rule manager are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DictationProviderChanged bool
	NewDictationProvider     string

	// ModelDirChanged and TmpDirChanged require a full restart (the graph
	// compiler and artifact cache are bound to these paths at startup) —
	// callers should treat either as non-hot-reloadable.
	ModelDirChanged bool
	TmpDirChanged   bool
}

// Diff compares old and new configs and reports what changed.
func Diff(old, new *GrammarConfig) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Dictation.Name != new.Dictation.Name {
		d.DictationProviderChanged = true
		d.NewDictationProvider = new.Dictation.Name
	}
	if old.Model.ModelDir != new.Model.ModelDir {
		d.ModelDirChanged = true
	}
	if old.Model.TmpDir != new.Model.TmpDir {
		d.TmpDirChanged = true
	}

	return d
}
