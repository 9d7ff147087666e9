// Package destination implements the pure destination-resolution function
// from spec.md §6: given a caller-supplied destination and the
// remote-suggested filename, compute the final output path. Grounded on
// the teacher's internal/utils/filename.go DetermineFilename (Content-
// Disposition via vfaronov/httpheader, URL basename fallback, magic-byte
// extension sniffing via h2non/filetype, filename sanitization), split
// here into a name-suggestion step and a path-resolution step so the
// latter stays a pure function testable without an HTTP response.
package destination

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"
)

const fallbackName = "download.bin"

// SuggestName extracts a candidate filename from an HTTP response and the
// request URL, in the teacher's priority order: Content-Disposition,
// filename/file query parameters, URL path basename. header is a
// best-effort sniff buffer (e.g. the probe's first bytes) used only to
// add a missing extension by magic-byte detection; it may be nil.
func SuggestName(rawURL string, resp *http.Response, header []byte) string {
	var candidate string

	if resp != nil {
		if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
			candidate = name
		}
	}

	if candidate == "" {
		if u, err := url.Parse(rawURL); err == nil {
			q := u.Query()
			if name := q.Get("filename"); name != "" {
				candidate = name
			} else if name := q.Get("file"); name != "" {
				candidate = name
			} else {
				candidate = filepath.Base(u.Path)
			}
		}
	}

	name := sanitize(candidate)

	if filepath.Ext(name) == "" && len(header) > 0 {
		if kind, _ := filetype.Match(header); kind != filetype.Unknown && kind.Extension != "" {
			name = name + "." + kind.Extension
		}
	}

	if name == "" || name == "." || name == "/" {
		return fallbackName
	}
	return name
}

// sanitize mirrors the teacher's sanitizeFilename: strip path separators
// and characters unsafe on common filesystems.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "" || name == "/" {
		return name
	}
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(
		"/", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	return replacer.Replace(name)
}

// Resolve implements spec.md §6's three destination rules:
//   - destination is an existing directory (or ends in a path separator)
//     -> append suggestedName
//   - destination has a non-empty base name already (a full path) -> use
//     it verbatim
//   - destination is empty or a bare name with no directory component ->
//     append to defaultDir
func Resolve(destinationInput, suggestedName, defaultDir string) string {
	if destinationInput == "" {
		return filepath.Join(defaultDir, suggestedName)
	}

	if isDirLike(destinationInput) {
		return filepath.Join(destinationInput, suggestedName)
	}

	dir, base := filepath.Split(destinationInput)
	if dir == "" {
		// A bare name with no directory component at all.
		return filepath.Join(defaultDir, base)
	}
	return destinationInput
}

func isDirLike(path string) bool {
	if strings.HasSuffix(path, string(os.PathSeparator)) || strings.HasSuffix(path, "/") {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
