package version

// Version is overridden at build time via -ldflags "-X github.com/illumination-k/forgectl/internal/version.Version=..."
var Version = "dev"
