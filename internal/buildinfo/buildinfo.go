package buildinfo

import "runtime"

// Set with -ldflags "-X amburoute/internal/buildinfo.Version=..."
var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    return map[string]string{
        "service":   "amburoute",
        "version":   Version,
        "commit":    Commit,
        "builtAt":   BuiltAt,
        "goVersion": runtime.Version(),
    }
}
