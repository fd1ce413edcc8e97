package items

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/routeharness/routeharness/pkg/types"
)

// DICOM part-10 files carry a 128-byte preamble followed by "DICM".
const (
	preambleLen = 128
	magic       = "DICM"
)

// IsDICOMFile reports whether the file carries the DICOM magic string.
func IsDICOMFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, preambleLen+len(magic))
	if _, err := f.ReadAt(buf, 0); err != nil {
		return false
	}
	return bytes.Equal(buf[preambleLen:], []byte(magic))
}

// LoadDir walks root and returns one work item per DICOM file found, payload
// loaded whole and kept opaque. Hidden files and non-DICOM files are skipped.
func LoadDir(root string, recursive bool) ([]types.WorkItem, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("dataset root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset root %q is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if IsDICOMFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dataset %q: %w", root, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no DICOM files found under %q", root)
	}
	sort.Strings(paths)

	out := make([]types.WorkItem, 0, len(paths))
	for _, p := range paths {
		payload, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", p, err)
		}
		out = append(out, types.WorkItem{
			SourceFile: p,
			Payload:    payload,
		})
	}
	return out, nil
}
