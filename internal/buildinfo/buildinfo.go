package buildinfo

import "time"

// Set via -ldflags at build time
var (
	Version    = "dev"
	BuildTime  string // when the binary was compiled
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC()

// Info is what /api/status reports
type Info struct {
	Version    string    `json:"version"`
	BuildTime  string    `json:"buildTime,omitempty"`
	CommitHash string    `json:"commitHash,omitempty"`
	StartTime  time.Time `json:"startTime"`
	Uptime     string    `json:"uptime"`
}

// Current returns the build metadata and the uptime as of now
func Current() Info {
	return Info{
		Version:    Version,
		BuildTime:  BuildTime,
		CommitHash: CommitHash,
		StartTime:  StartTime,
		Uptime:     time.Since(StartTime).Truncate(time.Second).String(),
	}
}
