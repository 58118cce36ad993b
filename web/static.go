// Package web carries the embedded browser UI bundle. The client's behavior
// is specified elsewhere; the server only serves these files.
package web

import (
	"embed"
	"os"
	"path/filepath"
)

//go:embed assets
var assets embed.FS

// Asset returns the named bundle file. When overrideDir is non-empty and
// holds the file, the on-disk copy wins (development mode).
func Asset(name, overrideDir string) ([]byte, error) {
	if overrideDir != "" {
		if data, err := os.ReadFile(filepath.Join(overrideDir, name)); err == nil {
			return data, nil
		}
	}
	return assets.ReadFile("assets/" + name)
}

// ContentType maps a bundle file to its MIME type.
func ContentType(name string) string {
	switch filepath.Ext(name) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
