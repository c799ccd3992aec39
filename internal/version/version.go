// Package version holds build metadata shared by the simulator components
package version

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/Milad-Afdasta/ratewindow/internal/version.Version=v0.3.0"
var Version = "dev"

// Component names, reported as HTTP client names
const (
	LoadGenerator = "ratewindow-loadgen"
	Monitor       = "ratewindow-monitor"
	Probe         = "ratewindow-probe"
)

// UserAgent returns the client name for a component
func UserAgent(component string) string {
	return component + "/" + Version
}
