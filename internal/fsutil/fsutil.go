// Package fsutil provides file system lookup helpers for the solver
// adapters.
package fsutil

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// FindFilesByExtension recursively searches the given root path for all files
// ending with the specified extension. Results are sorted so callers get a
// deterministic order regardless of directory iteration.
func FindFilesByExtension(rootPath string, extension string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// FirstFileByExtension returns the single file with the given extension under
// root. It is an error if none or more than one exists; solver output
// directories are expected to hold exactly one artifact per format.
func FirstFileByExtension(rootPath string, extension string) (string, error) {
	files, err := FindFilesByExtension(rootPath, extension)
	if err != nil {
		return "", err
	}
	switch len(files) {
	case 0:
		return "", fmt.Errorf("no %q file found under %s", extension, rootPath)
	case 1:
		return files[0], nil
	default:
		return "", fmt.Errorf("expected one %q file under %s, found %d", extension, rootPath, len(files))
	}
}
