package config

import "time"

const (
	DBPingTimeout         = 5 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 60 * time.Second
	ServerShutdownTimeout = 30 * time.Second

	// Bot generation waits on the upstream call, so it must outlive the AI timeout.
	ServerRequestTimeout = 3 * time.Minute

	// QuotaWindow is the length of one per-account quota window.
	QuotaWindow = 24 * time.Hour

	DefaultModelLimit = 30
	DefaultModelCost  = 1
)
