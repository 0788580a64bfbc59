//go:build !linux

package platform

// TargetEnv is only meaningful on linux
func TargetEnv() string {
	return ""
}
