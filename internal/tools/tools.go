package tools

import (
	"os/exec"
	"time"

	"github.com/JonMunkholm/geoimport/internal/config"
	"github.com/JonMunkholm/geoimport/internal/core"
)

// Options configures the toolset.
type Options struct {
	// Timeout bounds every external process.
	Timeout time.Duration

	// Schema is the target schema the loaders create tables in.
	Schema string

	// RasterTile is the raster2pgsql tile size, e.g. "180x180".
	RasterTile string

	// Database is the connection psql loads into.
	Database Database
}

// NewToolset wires the command-line tools named in bins into the
// pipeline's conversion capabilities.
func NewToolset(bins config.ToolsConfig, opts Options) core.Toolset {
	runner := &Runner{Timeout: opts.Timeout}
	loadRunner := &Runner{Timeout: opts.Timeout, Env: opts.Database.env()}
	srid := &SRIDDetector{Bin: bins.Gdalsrsinfo, Runner: runner}

	return core.Toolset{
		Spreadsheet: &Spreadsheet{Soffice: bins.Soffice, Runner: runner},
		Vector:      &Ogr2ogr{Bin: bins.Ogr2ogr, Runner: runner},
		Shapefile: &Shp2pgsql{
			Bin:    bins.Shp2pgsql,
			Psql:   bins.Psql,
			Schema: opts.Schema,
			Runner: loadRunner,
			SRID:   srid,
		},
		Raster: &Raster2pgsql{
			Bin:    bins.Raster2pgsql,
			Psql:   bins.Psql,
			Schema: opts.Schema,
			Tile:   opts.RasterTile,
			Runner: loadRunner,
			SRID:   srid,
		},
	}
}

// Missing returns the configured executables that cannot be found.
func Missing(bins config.ToolsConfig) []string {
	var missing []string
	for _, bin := range []string{
		bins.Ogr2ogr, bins.Shp2pgsql, bins.Raster2pgsql,
		bins.Psql, bins.Gdalsrsinfo, bins.Soffice,
	} {
		if bin == "" {
			continue
		}
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	return missing
}

// DatabaseFrom extracts the psql connection parameters from c.
func DatabaseFrom(c *config.DatabaseConfig) (Database, error) {
	host, port, user, password, name, err := c.Params()
	if err != nil {
		return Database{}, err
	}
	return Database{Host: host, Port: port, User: user, Password: password, Name: name}, nil
}
