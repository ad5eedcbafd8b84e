package security

import (
	"fmt"
	"os"
)

const (
	// PermConfigFile is for configuration files that may hold the webhook secret.
	PermConfigFile os.FileMode = 0640

	// PermLogFile is for the service log, which may carry command output.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the sqlite audit database holding raw deliveries.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories created by the service.
	PermDirectory os.FileMode = 0750
)

// CreateSecureDir creates a directory (and parents) and forces its mode,
// since MkdirAll is subject to the process umask.
func CreateSecureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// IsWorldReadable checks if a mode grants read access to others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a mode grants write access to others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions fails when a file holding sensitive data is
// readable or writable by others.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o)", path, perm)
	}

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o)", path, perm)
	}

	return nil
}
