package cfg

import "github.com/mitchellh/mapstructure"

// DecodeHook composes the mapstructure decode hooks used to bind a YAML
// config file onto Config: TextUnmarshaler support for Octal/LogSeverity/
// LogFormat, plus the usual duration/slice string hooks. Mirrors gcsfuse's
// cfg.DecodeHook.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
