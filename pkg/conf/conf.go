package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Version is overridden at build time
var Version = "development"

// PrintVersion prints build information
func PrintVersion() {
	fmt.Printf("rshell %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func ensurePath(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// ssh tooling complains about lax permissions on key material
		if err = os.MkdirAll(path, 0700); err != nil {
			return err
		}
	}
	return nil
}

// GetHome returns the directory holding profiles and known hosts,
// RSHELL_HOME when set, ~/.rshell otherwise, falling back to the working directory.
func GetHome() string {
	home := os.Getenv("RSHELL_HOME")
	if home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err == nil {
		home = filepath.Join(userHome, ".rshell")
		if err = ensurePath(home); err == nil {
			return home
		}
	}
	home, err = os.Getwd()
	if err != nil {
		home = "."
	}
	return home
}

// UserSSHDir returns ~/.ssh, or an empty string if the home directory is unknown
func UserSSHDir() string {
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(userHome, ".ssh")
}
