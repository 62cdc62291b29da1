package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level and the playback volume are applied live; any other
// change is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     float64

	// RestartRequired names the sections whose changes take effect only
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VolumeChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if ov, nv := old.Conversation.EffectiveVolume(), new.Conversation.EffectiveVolume(); ov != nv {
		d.VolumeChanged = true
		d.NewVolume = nv
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	oldConv, newConv := old.Conversation, new.Conversation
	oldConv.Volume, newConv.Volume = nil, nil
	if oldConv != newConv {
		d.RestartRequired = append(d.RestartRequired, "conversation")
	}

	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.Avatar, new.Avatar) {
		d.RestartRequired = append(d.RestartRequired, "avatar")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.PushToTalk != new.PushToTalk {
		d.RestartRequired = append(d.RestartRequired, "push_to_talk")
	}

	return d
}
