package rtmp

import (
	"time"

	"rtmpsess/internal/config"
	"rtmpsess/internal/core/session"
)

// Options configures the RTMP service.
type Options struct {
	Session         session.ServerSessionConfig
	AllowedApps     []string
	MaxMessageSize  uint32
	IdleTimeout     time.Duration
	SubscriberQueue uint32
	AcceptRate      float64
	AcceptBurst     int
}

// OptionsFromConfig maps the file configuration onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	sc := session.DefaultServerSessionConfig()
	sc.ChunkSize = cfg.Session.ChunkSize
	sc.WindowAckSize = cfg.Session.WindowAckSize
	if cfg.Session.PeerBandwidth > 0 {
		sc.PeerBandwidth = &session.PeerBandwidth{
			Size:  cfg.Session.PeerBandwidth,
			Limit: parseLimitType(cfg.Session.PeerBandwidthType),
		}
	} else {
		sc.PeerBandwidth = nil
	}

	return Options{
		Session:         sc,
		AllowedApps:     cfg.RTMP.AllowedApps,
		MaxMessageSize:  cfg.RTMP.MaxMessageSize,
		IdleTimeout:     cfg.RTMP.IdleTimeout.Std(),
		SubscriberQueue: uint32(cfg.RTMP.SubscriberQueue),
		AcceptRate:      cfg.RTMP.AcceptRate,
		AcceptBurst:     cfg.RTMP.AcceptBurst,
	}
}

func parseLimitType(s string) session.LimitType {
	switch s {
	case "hard":
		return session.LimitHard
	case "soft":
		return session.LimitSoft
	default:
		return session.LimitDynamic
	}
}

func (o Options) appAllowed(app string) bool {
	if len(o.AllowedApps) == 0 {
		return true
	}
	for _, allowed := range o.AllowedApps {
		if allowed == app {
			return true
		}
	}
	return false
}
