// Package browser opens the start page once the proxies are up.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/validation"
)

// Command builds the command that opens url in app on goos. An empty app
// uses the system default browser.
func Command(goos, app, url string) (*exec.Cmd, error) {
	// Validate URL for security before passing to system commands
	if err := validation.ValidateURL(url); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "ERR_OPEN_URL", "refusing to open page")
	}
	if app != "" {
		if err := validation.ValidateBrowser(app); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "ERR_BROWSER", "refusing to start browser")
		}
	}

	switch goos {
	case "darwin":
		if app == "" {
			return exec.Command("open", url), nil
		}
		return exec.Command("open", "-a", app, url), nil
	case "windows":
		if app == "" {
			return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
		}
		return exec.Command("cmd", "/c", "start", "", app, url), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		if app == "" {
			return exec.Command("xdg-open", url), nil
		}
		return exec.Command(app, url), nil
	default:
		return nil, errors.NewConfigError("ERR_PLATFORM", fmt.Sprintf("cannot open a browser on %s", goos))
	}
}

// Open starts app with url without waiting for it to exit.
func Open(app, url string) error {
	cmd, err := Command(runtime.GOOS, app, url)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "ERR_BROWSER_START", "failed to open browser")
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
