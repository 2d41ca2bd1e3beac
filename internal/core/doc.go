// Package core provides the import pipeline that turns an arbitrary
// geospatial or tabular source file into a new table in a PostGIS database.
//
// This package holds all domain logic independent of any transport layer.
// It is driven by the HTTP server and the CLI alike, and its collaborators
// (the database, the external converters, the downloader) are interfaces so
// the whole pipeline can be exercised in tests without a database.
//
// # Pipeline
//
// [Importer.Import] runs one request start-to-finish on the calling goroutine:
//
//  1. Initializing: the request is validated and a working table name is
//     resolved with [ResolveName] against the existing tables.
//  2. Resolving source: the local path, remote URL or upload is materialized
//     into a request-scoped working directory.
//  3. Dispatching: [Dispatch] maps the extension to a processing path. Zip and
//     kmz archives are expanded ([ExpandArchive]); spreadsheets are converted
//     to CSV; KML and GeoJSON are converted to a shapefile. The loop repeats
//     until a terminal format (.csv, .shp, .tif) is reached.
//  4. Loading: delimited text is loaded directly using the schema found by
//     [InferSchema]; shapefiles and rasters go through the external loaders
//     into a staging table that is copied to the final name.
//  5. Deriving geometry (delimited text only): [DeriveGeometry] builds
//     the_geom from an embedded GeoJSON column or a latitude/longitude pair.
//  6. Finalizing: the row count is taken and an [ImportResult] is returned.
//
// # Rollback
//
// Any fatal failure drops exactly the tables this request created. A table
// that existed before the request, including a table a concurrent request
// claimed between name resolution and creation, is never dropped.
//
// Name resolution is check-then-create and is not atomic across concurrent
// imports into the same schema. The losing request fails with
// [ErrNameCollision]; it does not retry.
//
// # Error Handling
//
// Expected pipeline outcomes are typed: [ErrInvalidRequest],
// [ErrUnsupportedFormat], [ErrEmptyResult], [ErrConversionFailure] and
// [ErrNameCollision], always wrapped in an [ImportError] that records the
// stage and carries the run log. Per-row geometry problems are not errors;
// they are recorded in the [RunLog] and the row keeps a NULL geometry.
// [MapError] turns any error into a user-facing message with a support code.
package core
