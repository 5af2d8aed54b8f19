// Package version carries build information reported by the API and CLI.
package version

// Set at build time with -ldflags "-X github.com/example/idcheck/internal/version.Version=...".
var (
	Version     = "1.0.0"
	Model       = "AI ID Validator"
	LastUpdated = "2025-05-20"
)

// Info is the payload of the version endpoint.
type Info struct {
	Version     string `json:"version"`
	Model       string `json:"model"`
	LastUpdated string `json:"last_updated"`
}

// Current returns the build information.
func Current() Info {
	return Info{Version: Version, Model: Model, LastUpdated: LastUpdated}
}
