package platform

import "path/filepath"

// TargetEnv reports the libc flavour of the host so a self-update can pick
// matching runtime builds. Empty outside linux.
func TargetEnv() string {
	if matches, _ := filepath.Glob("/lib/ld-musl-*.so.1"); len(matches) > 0 {
		return "musl"
	}
	return "gnu"
}
