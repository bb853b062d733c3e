// Package archive persists completed agent runs as JSON documents.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/assistants"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent", "archive")

// DefaultDir is the default results directory
const DefaultDir = "json_results"

// ErrSerialization is returned when a run cannot be encoded or decoded.
var ErrSerialization = errors.New("serialization failed")

// Document is the archived form of a run.
type Document struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Assistant    string         `json:"assistant"`
	Model        string         `json:"model"`
	Question     string         `json:"question"`
	Answer       string         `json:"answer"`
	PromptDigest string         `json:"prompt_digest"`
	Tools        []string       `json:"tools"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Messages     []llms.Message `json:"messages"`
}

// NewDocument returns the document for the run
func NewDocument(run *assistants.Run) *Document {
	return &Document{
		ID:           run.ID(),
		Kind:         run.Kind(),
		Assistant:    run.Assistant(),
		Model:        run.Model(),
		Question:     run.Question(),
		Answer:       run.Answer(),
		PromptDigest: run.PromptDigest(),
		Tools:        run.Tools(),
		StartedAt:    run.StartedAt(),
		FinishedAt:   run.FinishedAt(),
		Messages:     run.Messages(),
	}
}

// Option configures the Archiver
type Option func(*Archiver)

// WithClock sets the clock used to name result files
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		a.now = now
	}
}

// Archiver writes result documents to a directory.
// Files are named result_<kind>_<YYYYMMDD_HHMMSS>.json, and a second
// run of the same kind within the same second replaces the first file.
type Archiver struct {
	dir     string
	now     func() time.Time
	marshal func(any) ([]byte, error)
}

// New returns an Archiver, creating the directory if needed
func New(dir string, opts ...Option) (*Archiver, error) {
	a := &Archiver{
		dir:     values.StringsCoalesce(dir, DefaultDir),
		now:     time.Now,
		marshal: marshalIndent,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create results folder")
	}
	return a, nil
}

// Dir returns the results directory
func (a *Archiver) Dir() string {
	return a.dir
}

var unsafeKind = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileName returns the name of the result file for the kind at t
func FileName(kind string, t time.Time) string {
	kind = unsafeKind.ReplaceAllString(values.StringsCoalesce(kind, assistants.DefaultKind), "_")
	return fmt.Sprintf("result_%s_%s.json", kind, t.Format("20060102_150405"))
}

// Save writes the run and returns the path of the file.
// The file is written to a temporary name and renamed,
// so a reader never observes a partial document.
func (a *Archiver) Save(run *assistants.Run) (string, error) {
	doc := NewDocument(run)
	path, err := a.save(doc)
	if err != nil {
		metricskey.StatsResultsFailed.IncrCounter(1, doc.Kind)
		return "", err
	}
	metricskey.StatsResultsSaved.IncrCounter(1, doc.Kind)
	logger.KV(xlog.INFO,
		"status", "result_saved",
		"run_id", doc.ID,
		"path", path,
	)
	return path, nil
}

func (a *Archiver) save(doc *Document) (string, error) {
	js, err := a.marshal(doc)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "unable to encode run %s", doc.ID), ErrSerialization)
	}

	path := filepath.Join(a.dir, FileName(doc.Kind, a.now()))
	tmp, err := os.CreateTemp(a.dir, ".result_*.tmp")
	if err != nil {
		return "", errors.Wrapf(err, "unable to create file")
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(js); err != nil {
		_ = tmp.Close()
		return "", errors.Wrapf(err, "unable to write file")
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", errors.Wrapf(err, "unable to sync file")
	}
	if err = tmp.Close(); err != nil {
		return "", errors.Wrapf(err, "unable to close file")
	}
	if err = os.Rename(tmpName, path); err != nil {
		return "", errors.Wrapf(err, "unable to rename file")
	}
	return path, nil
}

// Load reads a document written by Save
func Load(path string) (*Document, error) {
	js, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	doc := new(Document)
	if err = json.Unmarshal(js, doc); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "unable to decode %s", filepath.Base(path)), ErrSerialization)
	}
	return doc, nil
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}
