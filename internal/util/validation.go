// Package util provides small validation helpers used by the server
// entrypoint.
package util

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"quorumd.io/server/models"
)

// setNameRegex restricts replica set names to DNS-label-like identifiers.
var setNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

// ValidateSetName checks that a replica set name is usable on the wire.
//
// Parameters:
//   - name: The replica set name to validate
//
// Returns:
//   - error: An error if the name is empty or contains invalid characters
func ValidateSetName(name string) error {
	if name == "" {
		return fmt.Errorf("replica set name must not be empty")
	}
	if !setNameRegex.MatchString(name) {
		return fmt.Errorf("invalid replica set name %q", name)
	}
	return nil
}

// ValidateHostPort checks that a string parses as a member address,
// applying the default member port when absent.
//
// Parameters:
//   - s: The string to validate as host or host:port
//
// Returns:
//   - error: An error if the string is not a valid address
func ValidateHostPort(s string) error {
	if _, err := models.NewHostPort(s); err != nil {
		return err
	}
	return nil
}

// ValidateInstanceID checks that a string is a valid UUID.
//
// Parameters:
//   - id: The string to validate as UUID
//
// Returns:
//   - error: An error if the string is not a valid UUID
func ValidateInstanceID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid instance ID format: %w", err)
	}
	return nil
}

// ValidatePortRange checks if a port number is in valid range (1-65535).
//
// Parameters:
//   - port: The port number to validate
//
// Returns:
//   - error: An error if the port is out of range
func ValidatePortRange(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
