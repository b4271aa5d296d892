package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_build_info",
			Help: "Constant 1, labelled with the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)
	buildInfoOnce sync.Once
)

// InitBuildInfo publishes warden_build_info. Calling it again replaces the
// previous series.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, resolveCommit(commit), runtime.Version()).Set(1)
}

// resolveCommit falls back to the VCS revision stamped by the toolchain when
// no commit was linked in.
func resolveCommit(commit string) string {
	if commit != "" && commit != "dev" {
		return commit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	if commit == "" {
		return "unknown"
	}
	return commit
}
