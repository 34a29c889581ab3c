package version

// These variables are set at build time via -ldflags
// Example: go build -ldflags "-X github.com/pysugar/food-log-nexus/internal/version.Version=v0.1.0"
var (
	// Version is the semantic version of the application
	Version = "dev"

	// Commit is the git commit hash
	Commit = "none"

	// BuildTime is the timestamp of the build
	BuildTime = "unknown"
)

// Info is the build metadata reported by the version endpoint and command.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}
