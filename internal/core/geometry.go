package core

// geometry.go derives a PostGIS geometry column for a freshly loaded
// delimited table. Two sources are tried, in order:
//
//  1. a the_geom column holding GeoJSON text, replaced by a typed geometry
//  2. exactly one latitude and one longitude column, combined into points
//
// Rows that cannot be converted are reported in the run log and left
// without geometry.

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
)

const (
	geomColumn     = "the_geom"
	geomOrigColumn = "the_geom_orig"
	geometrySRID   = 4326
)

var (
	latitudeNames  = []string{"latitude", "lat", "latitudedecimal", "latitud", "lati"}
	longitudeNames = []string{"longitude", "lon", "lng", "longitudedecimal", "longitud", "long"}
)

// GeometrySource tells how a geometry column was derived.
type GeometrySource int

const (
	GeometryNone GeometrySource = iota
	GeometryFromGeoJSON
	GeometryFromLatLon
)

func (g GeometrySource) String() string {
	switch g {
	case GeometryFromGeoJSON:
		return "geojson"
	case GeometryFromLatLon:
		return "latlon"
	default:
		return "none"
	}
}

// DeriveGeometry adds a the_geom column to table when one can be derived.
// Not finding a usable source is not an error; the returned error is only
// set for store failures.
func DeriveGeometry(ctx context.Context, store GeometryStore, table string, log *RunLog) (GeometrySource, error) {
	columns, err := store.Columns(ctx, table)
	if err != nil {
		return GeometryNone, fmt.Errorf("list columns of %s: %w", table, err)
	}

	if slices.Contains(columns, geomColumn) {
		src, err := deriveFromGeoJSON(ctx, store, table, log)
		if err != nil || src != GeometryNone {
			return src, err
		}
		log.Logf("column %s exists but is not GeoJSON; latitude/longitude detection skipped", geomColumn)
		return GeometryNone, nil
	}

	return deriveFromLatLon(ctx, store, table, columns, log)
}

func deriveFromGeoJSON(ctx context.Context, store GeometryStore, table string, log *RunLog) (GeometrySource, error) {
	sample, ok, err := store.SampleValue(ctx, table, geomColumn)
	if err != nil {
		return GeometryNone, fmt.Errorf("sample %s.%s: %w", table, geomColumn, err)
	}
	if !ok {
		log.Logf("column %s has no values", geomColumn)
		return GeometryNone, nil
	}
	probe, err := ParseGeoJSON(sample)
	if err != nil {
		log.Logf("column %s sample is not GeoJSON: %v", geomColumn, err)
		return GeometryNone, nil
	}

	geomType := postgisType(probe)
	log.Logf("converting GeoJSON column %s to %s geometry", geomColumn, geomType)

	if err := store.RenameColumn(ctx, table, geomColumn, geomOrigColumn); err != nil {
		return GeometryNone, fmt.Errorf("rename %s: %w", geomColumn, err)
	}
	if err := store.AddGeometryColumn(ctx, table, geomColumn, geometrySRID, geomType); err != nil {
		return GeometryNone, fmt.Errorf("add geometry column: %w", err)
	}

	converted, skipped := 0, 0
	err = store.UpdateGeometry(ctx, table, geomColumn, geometrySRID, []string{geomOrigColumn}, func(row Row) ([]byte, error) {
		raw := row.Values[0]
		if raw == nil || isBlank(*raw) {
			return nil, nil
		}
		g, err := ParseGeoJSON(*raw)
		if err != nil {
			skipped++
			log.AddErr(fmt.Sprintf("row %s: invalid GeoJSON in %s: %v", row.ID, geomOrigColumn, err))
			return nil, nil
		}
		if t := postgisType(g); t != geomType {
			skipped++
			log.AddErr(fmt.Sprintf("row %s: geometry type %s does not match column type %s", row.ID, t, geomType))
			return nil, nil
		}
		data, err := wkb.Marshal(g)
		if err != nil {
			skipped++
			log.AddErr(fmt.Sprintf("row %s: encode geometry: %v", row.ID, err))
			return nil, nil
		}
		converted++
		return data, nil
	})
	if err != nil {
		return GeometryNone, fmt.Errorf("write geometries from %s: %w", geomOrigColumn, err)
	}
	if err := store.CreateSpatialIndex(ctx, table, geomColumn); err != nil {
		return GeometryNone, fmt.Errorf("index geometry column: %w", err)
	}

	if err := store.DropColumn(ctx, table, geomOrigColumn); err != nil {
		return GeometryNone, fmt.Errorf("drop %s: %w", geomOrigColumn, err)
	}
	log.Logf("converted %d GeoJSON geometries, %d rows skipped", converted, skipped)
	return GeometryFromGeoJSON, nil
}

func deriveFromLatLon(ctx context.Context, store GeometryStore, table string, columns []string, log *RunLog) (GeometrySource, error) {
	lats := matchColumns(columns, latitudeNames)
	lons := matchColumns(columns, longitudeNames)
	if len(lats) != 1 || len(lons) != 1 {
		log.Logf("no unique latitude/longitude pair (latitude: %v, longitude: %v)", lats, lons)
		return GeometryNone, nil
	}
	lat, lon := lats[0], lons[0]
	log.Logf("deriving points from %s/%s", lon, lat)

	if err := store.AddGeometryColumn(ctx, table, geomColumn, geometrySRID, "POINT"); err != nil {
		return GeometryNone, fmt.Errorf("add geometry column: %w", err)
	}

	converted, skipped := 0, 0
	err := store.UpdateGeometry(ctx, table, geomColumn, geometrySRID, []string{lon, lat}, func(row Row) ([]byte, error) {
		if row.Values[0] == nil || row.Values[1] == nil {
			skipped++
			return nil, nil
		}
		p, ok := LatLonPoint(*row.Values[0], *row.Values[1])
		if !ok {
			skipped++
			return nil, nil
		}
		data, err := wkb.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode point for row %s: %w", row.ID, err)
		}
		converted++
		return data, nil
	})
	if err != nil {
		return GeometryNone, fmt.Errorf("write points from %s/%s: %w", lon, lat, err)
	}

	if err := store.CreateSpatialIndex(ctx, table, geomColumn); err != nil {
		return GeometryNone, fmt.Errorf("index geometry column: %w", err)
	}
	log.Logf("derived %d points, %d rows without valid coordinates", converted, skipped)
	return GeometryFromLatLon, nil
}

// ParseGeoJSON parses a GeoJSON geometry, or a Feature carrying one.
func ParseGeoJSON(s string) (orb.Geometry, error) {
	data := []byte(strings.TrimSpace(s))

	g, gerr := geojson.UnmarshalGeometry(data)
	if gerr == nil && g != nil && g.Geometry() != nil {
		return g.Geometry(), nil
	}
	f, ferr := geojson.UnmarshalFeature(data)
	if ferr == nil && f != nil && f.Geometry != nil {
		return f.Geometry, nil
	}
	if gerr == nil {
		gerr = errors.New("no geometry")
	}
	return nil, gerr
}

// LatLonPoint parses a longitude/latitude pair into a point. It reports
// false unless both are numbers with longitude in [-180, 180] and latitude
// in [-90, 90]. A comma decimal separator is accepted.
func LatLonPoint(lon, lat string) (orb.Point, bool) {
	x, err := parseDecimal(strings.TrimSpace(lon))
	if err != nil {
		return orb.Point{}, false
	}
	y, err := parseDecimal(strings.TrimSpace(lat))
	if err != nil {
		return orb.Point{}, false
	}
	if !(x >= -180 && x <= 180) || !(y >= -90 && y <= 90) {
		return orb.Point{}, false
	}
	return orb.Point{x, y}, true
}

// postgisType returns the PostGIS type name of g, e.g. MULTIPOLYGON.
func postgisType(g orb.Geometry) string {
	return strings.ToUpper(g.GeoJSONType())
}

// matchColumns returns the columns whose lowercased name is in candidates.
func matchColumns(columns, candidates []string) []string {
	want := toSet(candidates)
	var out []string
	for _, c := range columns {
		if want[strings.ToLower(c)] {
			out = append(out, c)
		}
	}
	return out
}
