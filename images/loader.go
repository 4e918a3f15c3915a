package images

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// File is an encoded image read from disk.
type File struct {
	// Path is the path to the image file.
	Path string
	// Data is the encoded image.
	Data []byte
	// Frame is the number parsed from a "frame-<n>" name, or -1.
	Frame int
}

// LoadDirectory reads every JPEG, PNG and WebP file in dir. Files named
// frame-<n> sort by n and come first; the rest follow in name order.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []File: The image files.
//   - error: Error if the directory or a file cannot be read.
func LoadDirectory(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".webp":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		files = append(files, File{Path: path, Data: data, Frame: frameNumber(entry.Name())})
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		switch {
		case a.Frame >= 0 && b.Frame >= 0:
			return a.Frame < b.Frame
		case a.Frame >= 0:
			return true
		case b.Frame >= 0:
			return false
		default:
			return a.Path < b.Path
		}
	})
	return files, nil
}

func frameNumber(name string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(base, "frame-") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(base, "frame-"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
