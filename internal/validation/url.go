package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL validates URLs for browser auto-open functionality
// Prevents command injection via URL parameters
func ValidateURL(rawURL string) error {
	parsed, err := parseHTTP(rawURL)
	if err != nil {
		return err
	}

	// Check for dangerous characters that could enable command injection
	dangerous := []string{";", "|", "`", "$", "(", ")", "<", ">", "\"", "'", "\\", "\n", "\r"}
	for _, char := range dangerous {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("URL contains dangerous character: %s", char)
		}
	}

	// Additional safety: reject URLs with spaces (could indicate injection attempts)
	if strings.Contains(rawURL, " ") {
		return fmt.Errorf("URL contains spaces (possible command injection attempt)")
	}

	if parsed.User != nil {
		return fmt.Errorf("URL must not carry credentials")
	}
	return nil
}

// ValidateTarget validates a server URL to proxy and push to. Credentials
// in the user info part are allowed; a path, query or fragment is not.
func ValidateTarget(rawURL string) error {
	parsed, err := parseHTTP(rawURL)
	if err != nil {
		return fmt.Errorf("target %s: %w", redact(rawURL), err)
	}
	if strings.Trim(parsed.Path, "/") != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("target %s: only scheme, credentials, host and port are allowed", redact(rawURL))
	}
	if p := parsed.Port(); p != "" {
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil || ValidatePort(n) != nil {
			return fmt.Errorf("target %s: invalid port %s", redact(rawURL), p)
		}
	}
	return nil
}

// ValidatePort checks a TCP port to listen on or connect to.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d is not in valid range 1-65535", port)
	}
	return nil
}

func parseHTTP(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// Only allow http/https schemes to prevent protocol handlers
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("URL must have a valid hostname")
	}
	return parsed, nil
}

// redact hides the password so validation errors can be printed.
func redact(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.User == nil {
		return rawURL
	}
	return parsed.Redacted()
}
