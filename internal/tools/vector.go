package tools

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// shapefileSidecars are the files ogr2ogr writes next to a .shp.
var shapefileSidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

// Ogr2ogr converts KML, KMZ and GeoJSON datasets to shapefiles.
type Ogr2ogr struct {
	Bin    string
	Runner *Runner
}

var _ core.VectorConverter = (*Ogr2ogr)(nil)

// ToShapefile runs ogr2ogr -f "ESRI Shapefile" dst src. The returned files
// include every sidecar that exists afterwards, even on failure.
func (o *Ogr2ogr) ToShapefile(ctx context.Context, src, dst string, log *core.RunLog) ([]string, error) {
	cmd := Command{Path: o.Bin, Args: []string{"-f", "ESRI Shapefile", dst, src}}
	err := o.Runner.Run(ctx, log, cmd)
	files := existingParts(dst)
	if err != nil {
		return files, err
	}
	if !fileExists(dst) {
		log.AddErr("failed to create shp file")
		return files, errors.New("failed to create shp file")
	}
	return files, nil
}

// existingParts returns shp and its sidecars that exist on disk.
func existingParts(shp string) []string {
	stem := strings.TrimSuffix(shp, ".shp")
	var out []string
	if fileExists(shp) {
		out = append(out, shp)
	}
	for _, ext := range shapefileSidecars {
		if p := stem + ext; fileExists(p) {
			out = append(out, p)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
