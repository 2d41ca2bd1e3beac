package tools

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// DefaultRasterTile is the raster2pgsql tile size.
const DefaultRasterTile = "180x180"

var (
	epsgPattern     = regexp.MustCompile(`EPSG:(\d+)`)
	codePagePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
	existsPattern   = regexp.MustCompile(`ERROR:\s+relation "[^"]*" already exists`)
)

// SRIDDetector reads the EPSG code of a dataset with gdalsrsinfo.
type SRIDDetector struct {
	Bin    string
	Runner *Runner
}

// Detect returns the dataset's EPSG code, or fallback when gdalsrsinfo is
// not configured, fails, or reports none.
func (d *SRIDDetector) Detect(ctx context.Context, path string, fallback int, log *core.RunLog) int {
	if d == nil || d.Bin == "" {
		return fallback
	}
	// gdalsrsinfo output is parsed here, so it is captured on a scratch log
	// and only the result is recorded.
	scratch := &core.RunLog{}
	if err := d.Runner.Run(ctx, scratch, Command{Path: d.Bin, Args: []string{"-o", "epsg", path}}); err != nil {
		log.Logf("srid detection failed, using %d: %v", fallback, err)
		return fallback
	}
	srid, ok := parseEPSG(strings.Join(scratch.Stdout, "\n"))
	if !ok {
		log.Logf("no srid detected, using %d", fallback)
		return fallback
	}
	log.Logf("srid %d", srid)
	return srid
}

func parseEPSG(out string) (int, bool) {
	m := epsgPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Shp2pgsql loads shapefiles with shp2pgsql | psql.
type Shp2pgsql struct {
	Bin    string
	Psql   string
	Schema string
	Runner *Runner
	SRID   *SRIDDetector
}

var _ core.VectorLoader = (*Shp2pgsql)(nil)

// LoadVector creates table from the shapefile at path. The SRID comes from
// the .prj sidecar when one is present.
func (s *Shp2pgsql) LoadVector(ctx context.Context, path, table string, srid int, log *core.RunLog) error {
	stem := strings.TrimSuffix(path, ".shp")
	if fileExists(stem + ".prj") {
		srid = s.SRID.Detect(ctx, stem+".prj", srid, log)
	}
	return loadPipe(ctx, s.Runner, log, s.command(path, table, srid, codePage(stem+".cpg")), psqlCommand(s.Psql))
}

func (s *Shp2pgsql) command(path, table string, srid int, encoding string) Command {
	args := []string{"-s", strconv.Itoa(srid), "-D", "-I", "-k", "-g", "the_geom"}
	if encoding != "" {
		args = append(args, "-W", encoding)
	}
	args = append(args, path, qualifiedName(s.Schema, table))
	return Command{Path: s.Bin, Args: args}
}

// Raster2pgsql loads rasters with raster2pgsql | psql.
type Raster2pgsql struct {
	Bin    string
	Psql   string
	Schema string
	Tile   string
	Runner *Runner
	SRID   *SRIDDetector
}

var _ core.RasterLoader = (*Raster2pgsql)(nil)

// LoadRaster creates table from the raster at path, tiled and indexed.
func (r *Raster2pgsql) LoadRaster(ctx context.Context, path, table string, defaultSRID int, log *core.RunLog) error {
	srid := r.SRID.Detect(ctx, path, defaultSRID, log)
	return loadPipe(ctx, r.Runner, log, r.command(path, table, srid), psqlCommand(r.Psql))
}

func (r *Raster2pgsql) command(path, table string, srid int) Command {
	tile := r.Tile
	if tile == "" {
		tile = DefaultRasterTile
	}
	return Command{Path: r.Bin, Args: []string{
		"-I", "-q",
		"-s", strconv.Itoa(srid),
		"-t", tile,
		path, qualifiedName(r.Schema, table),
	}}
}

// loadPipe runs a loader into psql. A psql failure caused by the target
// table already existing matches core.ErrTableExists.
func loadPipe(ctx context.Context, runner *Runner, log *core.RunLog, producer, consumer Command) error {
	mark := len(log.Err)
	err := runner.Pipe(ctx, log, producer, consumer)
	if err == nil {
		return nil
	}
	for _, line := range log.Err[mark:] {
		if existsPattern.MatchString(line) {
			return fmt.Errorf("%w: %w", core.ErrTableExists, err)
		}
	}
	return err
}

// psqlCommand reads SQL from stdin and stops at the first error. The
// connection comes from the runner's libpq environment.
func psqlCommand(bin string) Command {
	return Command{Path: bin, Args: []string{"-X", "-q", "-w", "-v", "ON_ERROR_STOP=1"}}
}

func qualifiedName(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// codePage returns the encoding named by a .cpg sidecar, or "".
func codePage(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	cp := strings.TrimSpace(string(data))
	if !codePagePattern.MatchString(cp) {
		return ""
	}
	return cp
}
