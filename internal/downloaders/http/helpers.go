package velohttp

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ()\[\]]+`)

func fileNameFromResponse(resp *http.Response, finalURL *url.URL) string {
	if name := fileNameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
		return name
	}
	if name := fileNameFromURL(finalURL); name != "" {
		return name
	}
	return generatedFileName(resp.Header.Get("Content-Type"), time.Now())
}

func fileNameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	// mime decodes filename* into filename already
	if fn := strings.TrimSpace(params["filename"]); fn != "" {
		return sanitizeFileName(fn)
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		if unescaped, err := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''")); err == nil && unescaped != "" {
			return sanitizeFileName(unescaped)
		}
	}
	return ""
}

// fileNameFromURL returns the last non-empty path segment, only when it
// carries an extension.
func fileNameFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "" {
			continue
		}
		if path.Ext(segments[i]) == "" {
			return ""
		}
		return sanitizeFileName(segments[i])
	}
	return ""
}

func generatedFileName(contentType string, now time.Time) string {
	return fmt.Sprintf("download_%d.%s", now.Unix(), extensionForContentType(contentType))
}

func extensionForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mediaType == "video/mp4":
		return "mp4"
	case strings.HasPrefix(mediaType, "video/"):
		return "video"
	case strings.HasPrefix(mediaType, "audio/"):
		return "mp3"
	case strings.HasPrefix(mediaType, "image/"):
		return "jpg"
	case mediaType == "application/pdf":
		return "pdf"
	case mediaType == "application/zip":
		return "zip"
	default:
		return "bin"
	}
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return filenameRegex.ReplaceAllString(name, "_")
}

// contentRangeTotal reads the complete length from "bytes start-end/total".
func contentRangeTotal(header string) (int64, bool) {
	_, total, found := strings.Cut(strings.TrimPrefix(header, "bytes "), "/")
	if !found || total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
