package push

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/remote"
	"github.com/conneroisu/aemfed/internal/sourceref"
)

// DefaultPackMgrPath is the package manager service of a content server.
const DefaultPackMgrPath = "/crx/packmgr/service.jsp"

var (
	statusPattern = regexp.MustCompile(`<status code="(\d+)">([\s\S]*?)</status>`)
	logPattern    = regexp.MustCompile(`(?s)<log>(.*?)</log>`)

	// Content errors name the temporary package file; only the part below
	// jcr_root exists locally.
	pushErrorRef = regexp.MustCompile(`systemId: file:/.*?/jcr_root(?P<jcrPath>/.*?); lineNumber: (?P<line>\d+); columnNumber: (?P<column>\d+);`)
)

// Error is a push the server rejected.
type Error struct {
	Host   string
	Status int
	// Message is the server message with HTML entities decoded.
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("push to %s failed (%d): %s", e.Host, e.Status, e.Message)
}

// LocalSource returns the "Local source:" line for a push error that points
// into a content file, resolved against resolver's content roots.
func LocalSource(err error, resolver *sourceref.Resolver) (string, bool) {
	if err == nil || resolver == nil {
		return "", false
	}
	ref := resolver.Extract(html.UnescapeString(err.Error()), pushErrorRef)
	if ref == nil {
		return "", false
	}
	return sourceref.Format(ref)
}

// Uploader installs packages through the package manager.
type Uploader struct {
	client      *http.Client
	packMgrPath string
	logger      logging.Logger
}

// NewUploader creates an uploader. An empty packMgrPath uses
// DefaultPackMgrPath.
func NewUploader(client *http.Client, packMgrPath string, logger logging.Logger) *Uploader {
	if client == nil {
		client = remote.NewClient()
	}
	if packMgrPath == "" {
		packMgrPath = DefaultPackMgrPath
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Uploader{
		client:      client,
		packMgrPath: packMgrPath,
		logger:      logger.WithComponent("push"),
	}
}

// Upload uploads and installs pkg on server.
func (u *Uploader) Upload(ctx context.Context, server string, pkg *Package) error {
	host := remote.Host(server)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{"force": "true", "install": "true", "name": packageName}
	for _, k := range []string{"force", "install", "name"} {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return errors.WrapIO(err, "ERR_PUSH", "cannot encode package upload")
		}
	}
	fw, err := mw.CreateFormFile("file", packageName+".zip")
	if err != nil {
		return errors.WrapIO(err, "ERR_PUSH", "cannot encode package upload")
	}
	if _, err := fw.Write(pkg.Data); err != nil {
		return errors.WrapIO(err, "ERR_PUSH", "cannot encode package upload")
	}
	if err := mw.Close(); err != nil {
		return errors.WrapIO(err, "ERR_PUSH", "cannot encode package upload")
	}

	target := strings.TrimRight(server, "/") + u.packMgrPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return errors.WrapNetwork(err, "ERR_NETWORK_REQUEST", "invalid request for "+remote.Redact(target))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := remote.Do(u.client, req)
	if err != nil {
		return err
	}
	if perr := parseResponse(host, string(resp)); perr != nil {
		return perr
	}

	u.logger.Debug(ctx, "package installed", "server", host, "items", len(pkg.Items))
	return nil
}

// parseResponse returns an *Error unless the package manager reported
// success.
func parseResponse(host, body string) error {
	m := statusPattern.FindStringSubmatch(body)
	if m == nil {
		return &Error{Host: host, Message: "unexpected package manager response"}
	}
	code, _ := strconv.Atoi(m[1])
	message := strings.TrimSpace(m[2])
	if code == http.StatusOK && strings.EqualFold(message, "ok") {
		return nil
	}

	if logs := logPattern.FindStringSubmatch(body); logs != nil {
		for _, line := range strings.Split(logs[1], "\n") {
			if line = strings.TrimSpace(line); strings.HasPrefix(line, "E ") {
				message += "\n" + line
			}
		}
	}
	return &Error{Host: host, Status: code, Message: html.UnescapeString(message)}
}
