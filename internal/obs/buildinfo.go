package obs

import "github.com/prometheus/client_golang/prometheus"

// Build metadata, overridden at link time:
//
//	-ldflags "-X cluelyguard.com/internal/obs.Version=1.2.0 -X cluelyguard.com/internal/obs.GitSHA=abc123"
var (
	Version   = "0.1.0"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo is the payload served by /version.
type BuildInfo struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// CurrentBuild returns the linked build metadata.
func CurrentBuild() BuildInfo {
	return BuildInfo{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

// buildInfo is a constant 1 gauge labelled with version and commit.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "cluelyguard API build information.",
	},
	[]string{"version", "commit"},
)

// InitBuildInfo registers the service metrics and publishes build_info.
func InitBuildInfo() {
	Init()
	buildInfo.WithLabelValues(Version, GitSHA).Set(1)
}
