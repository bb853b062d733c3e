package main

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/callbacks"
	"github.com/effective-security/sqlagent/internal/config"
	"github.com/effective-security/sqlagent/internal/pipeline"
	"github.com/effective-security/sqlagent/pkg/observability"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

// loadConfig returns the configuration with the flags applied on top
func loadConfig(flags *commonFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Endpoint = values.StringsCoalesce(flags.endpoint, cfg.Endpoint)
	cfg.LogsDir = values.StringsCoalesce(flags.logsDir, cfg.LogsDir)
	cfg.ResultsDir = values.StringsCoalesce(flags.resultsDir, cfg.ResultsDir)
	cfg.Debug = cfg.Debug || flags.debug
	return cfg, nil
}

// runQuestion runs the pipeline. Failures are logged through the
// redacting sink and reported as a clean exit.
func runQuestion(ctx context.Context, out, errOut io.Writer, flags *runFlags) error {
	cfg, loadErr := loadConfig(&flags.commonFlags)
	if loadErr != nil {
		cfg = config.Default()
		cfg.LogsDir = values.StringsCoalesce(flags.logsDir, cfg.LogsDir)
	}

	obs := observability.New(observability.Config{
		Name:    "sqlagent",
		LogsDir: cfg.LogsDir,
		Rules:   cfg.RedactRules,
		Debug:   cfg.Debug,
		Console: errOut,
	})
	if err := obs.Init(); err != nil {
		fmt.Fprintf(errOut, "unable to initialize logging: %s\n", err.Error())
		return nil
	}
	defer func() {
		_ = obs.Close()
	}()

	log := obs.Logger("main")
	if loadErr != nil {
		log.ContextKV(ctx, xlog.ERROR, "reason", "configuration", "err", loadErr.Error())
		return nil
	}

	opts := []pipeline.Option{
		pipeline.WithObservability(obs),
	}
	if cfg.Debug {
		printer := callbacks.NewPrinter(observability.NewWriter(errOut, "printer", obs.Redactor()), callbacks.ModeVerbose)
		opts = append(opts, pipeline.WithCallback(printer))
	}

	res, err := pipeline.Execute(ctx, cfg, flags.question, opts...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.ContextKV(ctx, xlog.WARNING, "status", "interrupted")
		}
		return nil
	}

	fmt.Fprintln(out, res.Run.Answer())
	fmt.Fprintf(out, "\nsaved: %s\n", res.Path)
	if logFile := obs.LogFile(); logFile != "" {
		fmt.Fprintf(out, "log: %s\n", logFile)
	}
	return nil
}

func printConfig(out io.Writer, flags *commonFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err = enc.Encode(cfg.Masked()); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(enc.Close())
}
