// Package tools provides the conversion capabilities of the import
// pipeline: spreadsheet to CSV, vector formats to shapefile, and loading
// shapefiles and rasters into PostGIS with the PostGIS command-line loaders.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// waitDelay bounds how long a cancelled process's output is drained when
// grandchildren keep its pipes open.
const waitDelay = 2 * time.Second

// Command is one process invocation.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Database holds the connection parameters handed to psql through the
// libpq environment, which keeps the password off the command line.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

func (d Database) env() []string {
	var env []string
	add := func(key, value string) {
		if value != "" {
			env = append(env, key+"="+value)
		}
	}
	add("PGHOST", d.Host)
	if d.Port != 0 {
		add("PGPORT", strconv.Itoa(d.Port))
	}
	add("PGUSER", d.User)
	add("PGPASSWORD", d.Password)
	add("PGDATABASE", d.Name)
	return env
}

// Runner executes external tools with a timeout, capturing their output
// into the import's run log.
type Runner struct {
	// Timeout bounds each Run or Pipe call. Zero means no limit beyond ctx.
	Timeout time.Duration

	// Env is appended to the process environment.
	Env []string
}

// Run executes cmd. Standard output goes to the run log's stdout, standard
// error to its error lines.
func (r *Runner) Run(ctx context.Context, log *core.RunLog, cmd Command) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	log.Logf("running %s", cmd)

	var stdout, stderr bytes.Buffer
	c := r.command(ctx, cmd)
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	log.AddStdout(stdout.String())
	log.AddErr(stderr.String())
	return r.exitError(ctx, cmd, err)
}

// Pipe executes producer | consumer. Both processes share the timeout.
func (r *Runner) Pipe(ctx context.Context, log *core.RunLog, producer, consumer Command) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	log.Logf("running %s | %s", producer, consumer)

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}

	var prodErr, consOut, consErr bytes.Buffer
	p := r.command(ctx, producer)
	p.Stdout = pw
	p.Stderr = &prodErr

	c := r.command(ctx, consumer)
	c.Stdin = pr
	c.Stdout = &consOut
	c.Stderr = &consErr

	if err := c.Start(); err != nil {
		pr.Close()
		pw.Close()
		return r.exitError(ctx, consumer, err)
	}
	if err := p.Start(); err != nil {
		pr.Close()
		pw.Close()
		c.Wait()
		return r.exitError(ctx, producer, err)
	}
	// The children hold their own copies of the pipe ends.
	pr.Close()
	pw.Close()

	pErr := p.Wait()
	cErr := c.Wait()

	log.AddErr(prodErr.String())
	log.AddStdout(consOut.String())
	log.AddErr(consErr.String())

	if err := r.exitError(ctx, producer, pErr); err != nil {
		return err
	}
	return r.exitError(ctx, consumer, cErr)
}

func (r *Runner) command(ctx context.Context, cmd Command) *exec.Cmd {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.WaitDelay = waitDelay
	if len(r.Env) > 0 {
		c.Env = append(os.Environ(), r.Env...)
	}
	return c
}

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

func (r *Runner) exitError(ctx context.Context, cmd Command, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out: %w", cmd.Path, context.DeadlineExceeded)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s not found on PATH: %w", cmd.Path, err)
	}
	return fmt.Errorf("%s: %w", cmd.Path, err)
}
