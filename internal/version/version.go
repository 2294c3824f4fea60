package version

// Set at build time with -ldflags "-X github.com/fbz-tec/pg2parquet/internal/version.AppVersion=..."
var (
	AppVersion = "dev"
	BuildTime  = "unknown"
	GitCommit  = "none"
)
