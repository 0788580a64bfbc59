//go:build !windows

package config

import "errors"

func roamingAppData() (string, error) {
	return "", errors.New("roaming app data only exists on windows")
}
