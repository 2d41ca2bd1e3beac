package core

import (
	"path/filepath"
	"strings"
)

// Path is the processing path selected for a file extension.
type Path int

const (
	PathUnsupported Path = iota
	PathArchive          // expand, then dispatch the selected entry
	PathSpreadsheet      // convert to .csv
	PathVectorConvert    // convert to .shp
	PathDelimited        // terminal: schema inference and COPY
	PathShapefile        // terminal: external shapefile loader
	PathRaster           // terminal: external raster loader
)

func (p Path) String() string {
	switch p {
	case PathArchive:
		return "archive"
	case PathSpreadsheet:
		return "spreadsheet"
	case PathVectorConvert:
		return "vector-convert"
	case PathDelimited:
		return "delimited"
	case PathShapefile:
		return "shapefile"
	case PathRaster:
		return "raster"
	default:
		return "unsupported"
	}
}

// Terminal reports whether p loads data rather than converting it.
func (p Path) Terminal() bool {
	return p == PathDelimited || p == PathShapefile || p == PathRaster
}

// dispatchTable maps normalized extensions to processing paths. It is built
// once and never modified.
var dispatchTable = map[string]Path{
	".zip":  PathArchive,
	".kmz":  PathArchive,
	".xls":  PathSpreadsheet,
	".xlsx": PathSpreadsheet,
	".ods":  PathSpreadsheet,
	".kml":  PathVectorConvert,
	".json": PathVectorConvert,
	".js":   PathVectorConvert,
	".csv":  PathDelimited,
	".shp":  PathShapefile,
	".tif":  PathRaster,
	".tiff": PathRaster,
}

// Dispatch returns the processing path for ext. The extension is compared
// case-insensitively, with or without its leading dot. Unknown extensions
// fail with ErrUnsupportedFormat.
func Dispatch(ext string) (Path, error) {
	ext = normalizeExt(ext)
	if p, ok := dispatchTable[ext]; ok {
		return p, nil
	}
	return PathUnsupported, newError(ErrUnsupportedFormat, "dispatch", ext, nil)
}

// payloadExtension reports whether ext can be selected out of an archive.
// Nested archives are not.
func payloadExtension(ext string) bool {
	p, ok := dispatchTable[normalizeExt(ext)]
	return ok && p != PathArchive
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// extOf returns the normalized extension of path.
func extOf(path string) string {
	return normalizeExt(filepath.Ext(path))
}

// baseName returns the file name of path without directory or extension.
func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
