package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

var frameExts = map[string]struct{}{
	".fits": {},
	".fit":  {},
	".fts":  {},
	".tif":  {},
	".tiff": {},
	".png":  {},
	".pgm":  {},
	".ppm":  {},
	".xisf": {},
}

// ListFrames returns all stackable frame files under root, sorted so
// repeated runs over the same session see the same exposure order.
func ListFrames(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := frameExts[ext]; ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsFrameFile checks if a file is a supported frame format.
func IsFrameFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := frameExts[ext]
	return ok
}
