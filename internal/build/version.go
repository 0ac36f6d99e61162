package build

import "fmt"

// Set via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "unknown"
)

func String() string {
	return fmt.Sprintf("mulberry %s (%s)", Version, Commit)
}
