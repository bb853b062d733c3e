// Package pipeline runs one question through the SQL agent:
// it opens the tool server session, loads the tools, runs the assistant
// and archives the result.
package pipeline

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/archive"
	"github.com/effective-security/sqlagent/assistants"
	"github.com/effective-security/sqlagent/callbacks"
	"github.com/effective-security/sqlagent/internal/config"
	"github.com/effective-security/sqlagent/mcp"
	"github.com/effective-security/sqlagent/mcp/transport"
	"github.com/effective-security/sqlagent/mcp/transport/httptransport"
	"github.com/effective-security/sqlagent/pkg/llmfactory"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/llmutils"
	"github.com/effective-security/sqlagent/pkg/observability"
	"github.com/effective-security/sqlagent/pkg/prompts"
	"github.com/effective-security/sqlagent/pkg/sanitize"
	"github.com/effective-security/sqlagent/tools"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent/internal", "pipeline")

// Version is reported to the tool server in the handshake
var Version = "dev"

// Result of a pipeline execution
type Result struct {
	// SanitizedEndpoint is the tool server URL safe to log
	SanitizedEndpoint string
	// Tools are the names of the tools offered by the server
	Tools []string
	// Run is the agent run
	Run *assistants.Run
	// Path is the saved result document
	Path string
	// Stats are the counters of the run
	Stats callbacks.RunStats
}

// Option configures Execute
type Option func(*options)

type options struct {
	obs          *observability.Context
	factory      llmfactory.Factory
	newTransport func(cfg *config.Config) (transport.Transport, error)
	callbacks    []assistants.Callback
	archiveOpts  []archive.Option
}

// WithObservability uses the channel logger of the observability context
func WithObservability(obs *observability.Context) Option {
	return func(o *options) {
		o.obs = obs
	}
}

// WithFactory overrides the LLM factory built from the configuration
func WithFactory(f llmfactory.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithTransport overrides the streamable HTTP transport
func WithTransport(fn func(cfg *config.Config) (transport.Transport, error)) Option {
	return func(o *options) {
		o.newTransport = fn
	}
}

// WithCallback adds a callback to the assistant
func WithCallback(cb assistants.Callback) Option {
	return func(o *options) {
		o.callbacks = append(o.callbacks, cb)
	}
}

// WithArchiveOptions passes options to the archiver
func WithArchiveOptions(opts ...archive.Option) Option {
	return func(o *options) {
		o.archiveOpts = append(o.archiveOpts, opts...)
	}
}

// NewTransport returns the streamable HTTP transport of the configuration
func NewTransport(cfg *config.Config) (transport.Transport, error) {
	timeout, err := cfg.MCPTimeout()
	if err != nil {
		return nil, errors.Mark(err, config.ErrConfiguration)
	}
	return httptransport.New(httptransport.Config{
		URL:     cfg.Endpoint,
		Headers: cfg.MCP.Headers,
		Timeout: timeout,
	}), nil
}

// Execute answers the question with the tools of the configured server
// and saves the result document.
// The endpoint is only logged in its sanitized form.
// No document is saved when any step fails.
func Execute(ctx context.Context, cfg *config.Config, question string, opts ...Option) (*Result, error) {
	o := &options{
		newTransport: NewTransport,
	}
	for _, opt := range opts {
		opt(o)
	}

	log := logger
	if o.obs != nil {
		log = o.obs.Logger("pipeline")
	}

	res := &Result{
		SanitizedEndpoint: sanitize.URL(cfg.Endpoint),
	}
	log.ContextKV(ctx, xlog.INFO, "status", "starting", "endpoint", res.SanitizedEndpoint)

	if err := cfg.Validate(); err != nil {
		log.ContextKV(ctx, xlog.ERROR, "reason", "configuration", "err", err.Error())
		return res, err
	}

	systemPrompt, err := prompts.Load(cfg.PromptFile)
	if err != nil {
		return res, errors.Mark(err, config.ErrConfiguration)
	}
	question = values.StringsCoalesce(question, cfg.Question, prompts.DefaultQuestion)

	factory := o.factory
	if factory == nil {
		factory = llmfactory.New(cfg.Providers())
	}
	model, err := factory.AssistantModel(cfg.Agent.Name)
	if err != nil {
		log.ContextKV(ctx, xlog.ERROR, "reason", "model", "err", err.Error())
		return res, errors.Mark(errors.Wrap(err, "unable to create the model"), config.ErrConfiguration)
	}

	tr, err := o.newTransport(cfg)
	if err != nil {
		return res, err
	}

	stats := callbacks.NewStats()
	fanout := callbacks.NewFanout(callbacks.NewAuditLogger(log), stats)
	for _, cb := range o.callbacks {
		fanout.Add(cb)
	}

	clientName := values.StringsCoalesce(cfg.MCP.ClientName, mcp.DefaultClientInfo.Name)
	err = mcp.WithSession(ctx, tr, func(ctx context.Context, sess *mcp.Session) error {
		list, err := mcp.LoadTools(ctx, sess)
		if err != nil {
			return err
		}
		res.Tools = toolNames(list)
		log.ContextKV(ctx, xlog.INFO,
			"status", "tools_loaded",
			"server", sess.ServerInfo().Name,
			"protocol", sess.ProtocolVersion(),
			"tools", res.Tools,
		)

		agent, err := assistants.NewAssistant(model, cfg.Agent.Name, systemPrompt, list, agentOptions(cfg, model, fanout)...)
		if err != nil {
			return err
		}
		res.Run, err = agent.Run(ctx, question)
		return err
	}, mcp.WithClientInfo(clientName, Version))
	res.Stats = stats.Snapshot()

	if err != nil {
		logFailure(ctx, log, err)
		return res, err
	}

	archiver, err := archive.New(cfg.ResultsDir, o.archiveOpts...)
	if err != nil {
		log.ContextKV(ctx, xlog.ERROR, "reason", "archive", "err", err.Error())
		return res, err
	}
	res.Path, err = archiver.Save(res.Run)
	if err != nil {
		log.ContextKV(ctx, xlog.ERROR, "reason", "save", "err", err.Error())
		return res, err
	}

	log.ContextKV(ctx, xlog.INFO,
		"status", "completed",
		"run_id", res.Run.ID(),
		"path", res.Path,
		"stats", res.Stats.String(),
	)
	return res, nil
}

func agentOptions(cfg *config.Config, model llms.Model, cb assistants.Callback) []assistants.Option {
	opts := []assistants.Option{
		assistants.WithCallback(cb),
		assistants.WithKind(cfg.Kind),
	}
	if cfg.Agent.MaxIterations > 0 {
		opts = append(opts, assistants.WithMaxIterations(cfg.Agent.MaxIterations))
	}
	if cfg.Agent.MaxToolCalls > 0 {
		opts = append(opts, assistants.WithMaxToolCalls(cfg.Agent.MaxToolCalls))
	}
	if cfg.Agent.MaxTokens > 0 {
		opts = append(opts, assistants.WithMaxTokens(cfg.Agent.MaxTokens))
	}
	if cfg.Agent.Temperature > 0 {
		opts = append(opts, assistants.WithTemperature(cfg.Agent.Temperature))
	}
	logger.KV(xlog.DEBUG, "agent", cfg.Agent.Name, "model", model.GetName(), "provider", model.GetProviderType())
	return opts
}

func logFailure(ctx context.Context, log *xlog.PackageLogger, err error) {
	kv := []any{"err", err.Error()}

	var runErr *assistants.RunError
	if errors.As(err, &runErr) {
		kv = append(kv, "messages", len(runErr.Messages))
		defer log.ContextKV(ctx, xlog.DEBUG,
			"status", "partial_history",
			"transcript", llmutils.ToJSON(runErr.Messages),
		)
	}

	switch {
	case errors.Is(err, context.Canceled):
		log.ContextKV(ctx, xlog.WARNING, append([]any{"reason", "interrupted"}, kv...)...)
	case errors.Is(err, mcp.ErrConnection):
		log.ContextKV(ctx, xlog.ERROR, append([]any{"reason", "connection"}, kv...)...)
	case errors.Is(err, mcp.ErrProtocol):
		log.ContextKV(ctx, xlog.ERROR, append([]any{"reason", "protocol"}, kv...)...)
	case errors.Is(err, assistants.ErrToolNotFound), errors.Is(err, assistants.ErrToolInvocation):
		log.ContextKV(ctx, xlog.ERROR, append([]any{"reason", "tool"}, kv...)...)
	default:
		log.ContextKV(ctx, xlog.ERROR, append([]any{"reason", "run"}, kv...)...)
	}
}

func toolNames(list []tools.ITool) []string {
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.Name()
	}
	return names
}
