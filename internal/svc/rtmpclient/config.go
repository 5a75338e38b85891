package rtmpclient

import (
	"rtmpsess/internal/config"
	"rtmpsess/internal/core/session"
)

// SessionConfig maps the file configuration onto client session settings.
func SessionConfig(cfg *config.Config) session.ClientSessionConfig {
	sc := session.DefaultClientSessionConfig()
	sc.ChunkSize = cfg.Session.ChunkSize
	buffer := cfg.Session.PlayBufferLength
	sc.PlayBufferLength = &buffer
	return sc
}
