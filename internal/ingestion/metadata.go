package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// supportedExtensions lists the file types a directory source turns into
// documents.
var supportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".pdf":      true,
}

// Supported reports whether name has an extension the pipeline can read.
func Supported(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// TitleFromFilename derives a document title from a file name: the
// directory and extension are dropped and underscores become spaces.
//
//	"docs/Neural_Networks.txt" → "Neural Networks"
func TitleFromFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}

// TitleFromURL derives a best-effort title from a URL's last path segment,
// falling back to the host name.
//
//	"https://example.com/guides/getting_started.html" → "getting started"
func TitleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if seg == "." || seg == "/" || seg == "" {
		return u.Hostname()
	}
	seg = strings.TrimSuffix(seg, path.Ext(seg))
	seg = strings.NewReplacer("_", " ", "-", " ").Replace(seg)
	return strings.TrimSpace(seg)
}

// DocumentKey returns the logical identity of a document: its source when
// known, otherwise a hash of title and content. Re-ingesting the same file
// or URL therefore updates the existing document instead of duplicating it.
func DocumentKey(in Input) string {
	if in.Source != "" {
		return in.Source
	}
	h := sha256.New()
	h.Write([]byte(in.Title))
	h.Write([]byte{0})
	h.Write([]byte(in.Content))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
