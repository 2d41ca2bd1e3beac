package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/geoimport/internal/core"
)

func TestResolveSource(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		url     string
		args    []string
		want    core.Source
		wantErr bool
	}{
		{name: "positional", args: []string{"cities.csv"}, want: core.PathSource("cities.csv")},
		{name: "file flag", file: " roads.kml ", want: core.PathSource("roads.kml")},
		{name: "url", url: "https://example.com/a.zip", want: core.URLSource("https://example.com/a.zip")},
		{name: "arg and file", file: "a.csv", args: []string{"b.csv"}, wantErr: true},
		{name: "file and url", file: "a.csv", url: "https://example.com/a.csv", wantErr: true},
		{name: "nothing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSource(tt.file, tt.url, tt.args)
			if tt.wantErr {
				require.ErrorIs(t, err, core.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportCmd_RequiresSource(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"import"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.ErrorIs(t, err, core.ErrInvalidRequest)
	assert.Equal(t, "IMP001", core.MapError(err).Code)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env@localhost/envdb")
	t.Setenv("DB_SCHEMA", "envschema")
	t.Setenv("LOG_LEVEL", "info")

	var gf globalFlags
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVar(&gf.databaseURL, "database-url", "", "")
	flags.StringVar(&gf.schema, "schema", "", "")
	flags.StringVar(&gf.logLevel, "log-level", "", "")
	flags.StringVar(&gf.logFormat, "log-format", "", "")
	require.NoError(t, flags.Parse([]string{"--schema", "maps", "--log-level", "debug"}))

	cfg, err := loadConfig(flags, &gf)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@localhost/envdb", cfg.Database.URL, "unset flags keep the environment")
	assert.Equal(t, "maps", cfg.Database.Schema)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env@localhost/envdb")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"import", "a.csv", "--log-level", "loud"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "LOG_LEVEL"), err.Error())
}
