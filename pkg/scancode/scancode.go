// Package scancode extracts attendance sheet references from scanned QR
// payloads and manually typed access codes.
package scancode

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ManualCodeLength is the number of digits in a sheet access code.
const ManualCodeLength = 6

// legacyPrefix marks the colon-delimited payload printed on older sheets.
const legacyPrefix = "attendance"

var (
	// ErrUnrecognized is returned when a payload matches no known format.
	ErrUnrecognized = errors.New("unrecognized QR code")
	// ErrManualLookupUnavailable is returned by ResolveManualCode.
	ErrManualLookupUnavailable = errors.New("manual code lookup is not available yet, scan the QR code instead")
)

// Result identifies a sheet and the access code presented for it.
type Result struct {
	SheetID string `json:"sheet_id"`
	Code    string `json:"code"`
}

// Resolve accepts either a sheet URL (".../<sheet id>?code=<code>") or the
// legacy "attendance:<id>:<timestamp>:<code>" payload. The legacy form is
// only tried when raw is not an absolute URL.
func Resolve(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{}, ErrUnrecognized
	}

	if u, ok := parseAbsoluteURL(raw); ok {
		return fromURL(u)
	}
	return fromLegacy(raw)
}

func parseAbsoluteURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u, true
}

func fromURL(u *url.URL) (Result, error) {
	id := path.Base(strings.TrimRight(u.Path, "/"))
	if id == "." || id == "/" {
		id = ""
	}
	code := u.Query().Get("code")
	if id == "" || code == "" {
		return Result{}, ErrUnrecognized
	}
	return Result{SheetID: id, Code: code}, nil
}

func fromLegacy(raw string) (Result, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 4 || parts[0] != legacyPrefix {
		return Result{}, ErrUnrecognized
	}
	id, code := strings.TrimSpace(parts[1]), strings.TrimSpace(parts[3])
	if id == "" || code == "" {
		return Result{}, ErrUnrecognized
	}
	return Result{SheetID: id, Code: code}, nil
}

// NormalizeManualCode keeps digits only and truncates to ManualCodeLength.
func NormalizeManualCode(input string) string {
	var b strings.Builder
	for _, r := range input {
		if b.Len() == ManualCodeLength {
			break
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ManualCodeComplete reports whether code can be submitted.
func ManualCodeComplete(code string) bool {
	return len(code) == ManualCodeLength && NormalizeManualCode(code) == code
}

// ResolveManualCode would map a bare access code to its sheet. Codes are not
// unique across sheets, so the lookup is not offered; callers surface
// ErrManualLookupUnavailable as an informational message.
func ResolveManualCode(code string) (Result, error) {
	if !ManualCodeComplete(code) {
		return Result{}, ErrUnrecognized
	}
	return Result{}, ErrManualLookupUnavailable
}
