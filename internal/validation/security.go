// Package validation provides the checks applied to user supplied values
// before they reach the network or a spawned process.
package validation

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	if strings.TrimSpace(arg) == "" {
		return fmt.Errorf("argument cannot be empty")
	}

	// Check for shell metacharacters that could be used for command injection
	dangerous := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}
	return nil
}

// ValidateBrowser checks the application name used to open the start page.
// Names like "google chrome" contain spaces and are passed as a single
// argument, so only shell metacharacters are rejected.
func ValidateBrowser(app string) error {
	if err := ValidateArgument(app); err != nil {
		return fmt.Errorf("invalid browser '%s': %w", app, err)
	}
	return nil
}

// ValidatePath checks a directory given to watch.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Additional checks for dangerous characters in paths
	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\x00"}
	for _, char := range dangerousChars {
		if strings.Contains(p, char) {
			return fmt.Errorf("path contains dangerous character: %q", char)
		}
	}

	// Prevent watching system directories
	restrictedPaths := []string{"/proc", "/sys", "/dev"}
	clean := filepath.ToSlash(filepath.Clean(p))
	for _, restricted := range restrictedPaths {
		if clean == restricted || strings.HasPrefix(clean, restricted+"/") {
			return fmt.Errorf("access to restricted path denied: %s", p)
		}
	}

	return nil
}

// ValidateGlob checks an exclude pattern.
func ValidateGlob(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if _, err := path.Match(strings.TrimPrefix(pattern, "**/"), ""); err != nil {
		return fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}
	return nil
}
