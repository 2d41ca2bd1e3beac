package core

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExpandArchive extracts every file of the zip (or kmz) archive at path into
// dir and returns the first entry with a loadable extension.
//
// Entries are flattened to their base name; names beginning with "." or "__"
// are metadata artifacts and skipped. When entries in different folders
// share a base name only the first is extracted; the others are noted in
// log. An existing file at the target is replaced. Every extracted path is returned, selected or not, so the caller
// can remove them later; this holds on error too. An archive without a
// loadable entry fails with ErrUnsupportedFormat.
func ExpandArchive(path, dir string, log *RunLog) (selected string, extracted []string, err error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, newError(ErrUnsupportedFormat, "open archive", path, err)
	}
	defer r.Close()

	seen := make(map[string]string)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if skipEntry(name) {
			continue
		}
		if first, ok := seen[name]; ok {
			log.Logf("archive entry %s skipped: %s already extracted as %s", f.Name, first, name)
			continue
		}
		seen[name] = f.Name

		dest := filepath.Join(dir, name)
		extracted = append(extracted, dest)
		if err := extractEntry(f, dest); err != nil {
			return "", extracted, err
		}

		if selected == "" && payloadExtension(filepath.Ext(name)) {
			selected = dest
		}
	}

	if selected == "" {
		return "", extracted, newError(ErrUnsupportedFormat, "expand archive", path,
			errors.New("no supported file in archive"))
	}
	return selected, extracted, nil
}

func skipEntry(name string) bool {
	return name == "" || name == "." || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__")
}

func extractEntry(f *zip.File, dest string) error {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", dest, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
