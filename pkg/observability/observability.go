// Package observability provides the process-wide redacting log sink.
//
// A Context is built once at startup and passed to the components that log.
// Init installs a redacting formatter as the global xlog formatter, so every
// package logger, including the ones created later, goes through the same
// filter. The standard library logger is redirected through the filter too.
package observability

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// Repo is the xlog repository name of this module.
const Repo = "github.com/effective-security/sqlagent"

// DefaultQuietChannels are transport and SDK channels held at WARNING.
var DefaultQuietChannels = []string{
	"httptransport",
	"openai",
	"anthropic",
	"http",
}

// Config for the observability Context
type Config struct {
	// Name is the log file prefix
	Name string
	// LogsDir is the directory for the per-process log file,
	// the file is not created when empty
	LogsDir string
	// Rules are added to DefaultRules
	Rules []string
	// QuietChannels override DefaultQuietChannels when not empty
	QuietChannels []string
	// Debug enables DEBUG level, INFO otherwise
	Debug bool
	// Console receives the redacted console stream, os.Stderr by default
	Console io.Writer
	// Now is used for the log file timestamp
	Now func() time.Time
}

// Context is the explicit observability handle of a process.
type Context struct {
	cfg      Config
	redactor *Redactor

	once    sync.Once
	initErr error
	file    *os.File
	logFile string
}

// New returns a Context, call Init before logging.
func New(cfg Config) *Context {
	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.QuietChannels) == 0 {
		cfg.QuietChannels = DefaultQuietChannels
	}
	cfg.Name = values.StringsCoalesce(cfg.Name, "sqlagent")

	return &Context{
		cfg:      cfg,
		redactor: NewRedactor(NewRuleSet(cfg.Rules...)),
	}
}

// Init installs the redacting sink. It is idempotent: only the first call
// has an effect and every call returns the first result.
func (c *Context) Init() error {
	c.once.Do(func() {
		c.initErr = c.init()
	})
	return c.initErr
}

func (c *Context) init() error {
	out := c.cfg.Console
	if c.cfg.LogsDir != "" {
		if err := os.MkdirAll(c.cfg.LogsDir, 0o755); err != nil {
			return errors.Wrapf(err, "unable to create logs folder")
		}
		name := c.cfg.Name + "_" + c.cfg.Now().Format("20060102_150405") + ".log"
		c.logFile = filepath.Join(c.cfg.LogsDir, name)

		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return errors.Wrapf(err, "unable to create log file")
		}
		c.file = f
		out = io.MultiWriter(c.cfg.Console, f)
	}

	xlog.SetFormatter(NewFormatter(xlog.NewStringFormatter(out), c.redactor, c.cfg.QuietChannels...))
	level := xlog.INFO
	if c.cfg.Debug {
		level = xlog.DEBUG
	}
	xlog.SetGlobalLogLevel(level)

	log.SetOutput(NewWriter(out, "log", c.redactor))
	return nil
}

// Logger returns the logger of channel. The returned logger writes
// through the redacting formatter installed by Init.
func (c *Context) Logger(channel string) *xlog.PackageLogger {
	_ = c.Init()
	return xlog.NewPackageLogger(Repo, channel)
}

// Redactor returns the shared redactor.
func (c *Context) Redactor() *Redactor {
	return c.redactor
}

// LogFile returns the path of the per-process log file,
// empty when no logs folder is configured.
func (c *Context) LogFile() string {
	return c.logFile
}

// Close closes the log file.
func (c *Context) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
