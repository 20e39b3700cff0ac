// Command salesetl runs the retail sales star-schema pipeline.
//
//	salesetl run --config pipeline.yaml [-v]
//	salesetl validate --config pipeline.yaml
//	salesetl schema --config pipeline.yaml
//
// Exit codes: 0 success, 1 runtime or configuration failure, 2 usage error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"salesetl/internal/config"
	"salesetl/internal/pipeline"
	"salesetl/internal/report"

	// register all backends with the storage factory.
	_ "salesetl/internal/storage/all"
)

// runner is the subset of *pipeline.Runner used by the CLI.
type runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
	CreateSchema(ctx context.Context) error
}

// appDeps are the side-effecting seams of runMain. Tests replace them.
type appDeps struct {
	loadConfig  func(path string) (config.Pipeline, error)
	newRunner   func(cfg config.Pipeline, logger *log.Logger) runner
	initMetrics func(ctx context.Context, job string, m config.Metrics) (func(), error)
	initTracing func(ctx context.Context, exporter string, w io.Writer) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newRunner:   newPipelineRunner,
		initMetrics: initMetrics,
		initTracing: initTracing,
	}
}

// exitError carries a non-usage failure. Any other error from the command
// tree is treated as a usage error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(format string, a ...any) error {
	return &exitError{code: 1, err: fmt.Errorf(format, a...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintln(stderr, ee.err)
		return ee.code
	}
	fmt.Fprintln(stderr, err)
	fmt.Fprintln(stderr, "usage: salesetl run|validate|schema --config <file> [-v]")
	return 2
}

func newRootCmd(deps appDeps) *cobra.Command {
	var (
		cfgPath string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "salesetl",
		Short:         "Load retail sales extracts into a star-schema warehouse",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("missing command")
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "pipeline config path (.json, .yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logs")

	// load reads and validates the config. Issues are printed to stderr.
	load := func(cmd *cobra.Command) (config.Pipeline, error) {
		if strings.TrimSpace(cfgPath) == "" {
			return config.Pipeline{}, errors.New("--config is required")
		}
		p, err := deps.loadConfig(cfgPath)
		if err != nil {
			return config.Pipeline{}, fail("%w", err)
		}
		issues := config.ValidatePipeline(p)
		for _, iss := range issues {
			fmt.Fprintln(cmd.ErrOrStderr(), iss)
		}
		if config.HasErrors(issues) {
			return config.Pipeline{}, fail("configuration is invalid: %s", cfgPath)
		}
		return p, nil
	}

	logger := func(cmd *cobra.Command) *log.Logger {
		if !verbose {
			return log.New(io.Discard, "", 0)
		}
		return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := load(cmd); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Create the star schema tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				p, err := load(cmd)
				if err != nil {
					return err
				}
				if err := deps.newRunner(p, logger(cmd)).CreateSchema(cmd.Context()); err != nil {
					return fail("schema: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run the pipeline once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				p, err := load(cmd)
				if err != nil {
					return err
				}
				ctx := cmd.Context()

				cleanup, err := deps.initMetrics(ctx, p.Job, p.Metrics)
				if err != nil {
					return fail("init metrics: %w", err)
				}
				defer cleanup()

				stopTracing, err := deps.initTracing(ctx, p.Tracing.Exporter, cmd.ErrOrStderr())
				if err != nil {
					return fail("init tracing: %w", err)
				}
				defer stopTracing()

				sum, err := deps.newRunner(p, logger(cmd)).Run(ctx)
				if sum.RunID != "" {
					printSummary(cmd.OutOrStdout(), sum)
				}
				if err != nil {
					return fail("run: %w", err)
				}
				return nil
			},
		},
	)
	return root
}

// newPipelineRunner builds the production runner with report sinks from cfg.
func newPipelineRunner(cfg config.Pipeline, logger *log.Logger) runner {
	r := pipeline.NewRunner(cfg, logger)
	if sink := reportSink(cfg.Report); sink != nil {
		r.Report = sink
	}
	return r
}

// reportSink returns the configured sinks, or nil when none is configured.
func reportSink(cfg config.Report) report.Sink {
	var sinks report.Multi
	if cfg.Path != "" {
		sinks = append(sinks, report.FileSink{Path: cfg.Path})
	}
	if cfg.AMQP.URL != "" {
		sinks = append(sinks, report.AMQPSink{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		})
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return sinks
}
