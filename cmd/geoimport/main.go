// Command geoimport imports one file or URL into PostGIS from the command
// line, using the same pipeline as the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JonMunkholm/geoimport/internal/config"
	"github.com/JonMunkholm/geoimport/internal/core"
	"github.com/JonMunkholm/geoimport/internal/logging"
	"github.com/JonMunkholm/geoimport/internal/store"
	"github.com/JonMunkholm/geoimport/internal/tools"
)

// Version is set at build time.
var Version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		msg := core.MapError(err)
		fmt.Fprintf(os.Stderr, "error: %s (%s)\n", msg.Message, msg.Code)
		if msg.Action != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", msg.Action)
		}
		fmt.Fprintf(os.Stderr, "  detail: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags override the environment configuration.
type globalFlags struct {
	databaseURL string
	schema      string
	logLevel    string
	logFormat   string
}

func newRootCmd() *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "geoimport",
		Short:         "Import tabular and geospatial files into PostGIS",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&gf.databaseURL, "database-url", "", "PostgreSQL connection string (default: $DATABASE_URL)")
	pf.StringVar(&gf.schema, "schema", "", "target schema (default: $DB_SCHEMA or public)")
	pf.StringVar(&gf.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&gf.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newImportCmd(&gf), newTablesCmd(&gf), newToolsCmd())
	return root
}

// loadConfig reads the environment and overlays the flags the user set.
func loadConfig(flags *pflag.FlagSet, gf *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if flags.Changed("database-url") {
		cfg.Database.URL = gf.databaseURL
	}
	if flags.Changed("schema") {
		cfg.Database.Schema = gf.schema
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = gf.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = gf.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

type importFlags struct {
	file      string
	url       string
	tableName string
	append    bool
	debug     bool
}

func newImportCmd(gf *globalFlags) *cobra.Command {
	var f importFlags

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a file or URL into a new table",
		Long: `Import a CSV, spreadsheet, shapefile, KML, GeoJSON, GeoTIFF or a zip of one
into a new table. The result is printed to stdout as JSON.`,
		Example: `  geoimport import cities.csv
  geoimport import --url https://example.com/parks.zip --table-name parks
  geoimport import --file roads.kml --debug --log-format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := resolveSource(f.file, f.url, args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd.Flags(), gf)
			if err != nil {
				return err
			}
			req := core.ImportRequest{
				Source:        src,
				TableName:     f.tableName,
				AppendToTable: f.append,
				Debug:         f.debug || cfg.Import.Debug,
			}
			return runImport(cmd.Context(), cfg, req, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "local file to import")
	fl.StringVarP(&f.url, "url", "u", "", "http(s) URL to import")
	fl.StringVarP(&f.tableName, "table-name", "n", "", "table name to use instead of one derived from the file")
	fl.BoolVar(&f.append, "append", false, "request appending to an existing table (advisory)")
	fl.BoolVar(&f.debug, "debug", false, "log pipeline diagnostics at info level")
	return cmd
}

// resolveSource picks the import source from --file, --url or the
// positional argument. Exactly one must be given.
func resolveSource(file, url string, args []string) (core.Source, error) {
	if len(args) == 1 {
		if file != "" {
			return core.Source{}, fmt.Errorf("%w: give the file either as an argument or with --file, not both", core.ErrInvalidRequest)
		}
		file = args[0]
	}
	file, url = strings.TrimSpace(file), strings.TrimSpace(url)
	switch {
	case file != "" && url != "":
		return core.Source{}, fmt.Errorf("%w: give either a file or --url, not both", core.ErrInvalidRequest)
	case file != "":
		return core.PathSource(file), nil
	case url != "":
		return core.URLSource(url), nil
	default:
		return core.Source{}, fmt.Errorf("%w: a file or --url is required", core.ErrInvalidRequest)
	}
}

func runImport(ctx context.Context, cfg *config.Config, req core.ImportRequest, stdout, stderr io.Writer) error {
	logger := logging.New(stderr, cfg.Logging.Level, cfg.Logging.Format)

	db, err := tools.DatabaseFrom(&cfg.Database)
	if err != nil {
		return err
	}
	toolset := tools.NewToolset(cfg.Tools, tools.Options{
		Timeout:    cfg.Import.ConvertTimeout,
		Schema:     cfg.Database.Schema,
		RasterTile: cfg.Import.RasterTile,
		Database:   db,
	})
	importer := core.NewImporter(
		store.DirectConnector{ConnString: cfg.Database.ConnString(), Schema: cfg.Database.Schema},
		toolset,
		core.NewHTTPFetcher(cfg.Import.DownloadTimeout, cfg.Import.MaxFileSize),
		logger,
		core.Options{
			WorkDir:     cfg.Import.WorkDir,
			MaxFileSize: cfg.Import.MaxFileSize,
			DefaultSRID: cfg.Import.DefaultSRID,
		},
	)

	result, err := importer.Import(ctx, req)
	if err != nil {
		var ie *core.ImportError
		if errors.As(err, &ie) {
			printRunLog(stderr, &ie.RunLog)
		}
		return err
	}
	return writeJSON(stdout, result)
}

func newTablesCmd(gf *globalFlags) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List tables in the target schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), gf)
			if err != nil {
				return err
			}
			s, err := store.Connect(cmd.Context(), cfg.Database.ConnString(), cfg.Database.Schema)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(cmd.Context()))

			names, err := s.TableNames(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list tables starting with prefix")
	return cmd
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Check that the external conversion tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadUnvalidated()
			if err != nil {
				return err
			}
			missing := tools.Missing(cfg.Tools)
			for _, bin := range missing {
				fmt.Fprintf(cmd.OutOrStdout(), "missing: %s\n", bin)
			}
			if len(missing) > 0 {
				return fmt.Errorf("%d conversion tools not found on PATH", len(missing))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all conversion tools found")
			return nil
		},
	}
}

func printRunLog(w io.Writer, log *core.RunLog) {
	for _, line := range log.Log {
		fmt.Fprintf(w, "log: %s\n", line)
	}
	for _, line := range log.Err {
		fmt.Fprintf(w, "err: %s\n", line)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
