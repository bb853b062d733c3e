package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/effective-security/xlog"
)

// Formatter wraps an xlog.Formatter and replaces every record that
// matches the redaction rules with a marker naming the channel.
// Records of quiet channels more verbose than WARNING are dropped.
type Formatter struct {
	xlog.Formatter

	redactor *Redactor
	quiet    map[string]bool
}

// NewFormatter returns a redacting formatter over inner.
func NewFormatter(inner xlog.Formatter, redactor *Redactor, quietChannels ...string) *Formatter {
	q := make(map[string]bool, len(quietChannels))
	for _, ch := range quietChannels {
		q[ch] = true
	}
	return &Formatter{
		Formatter: inner,
		redactor:  redactor,
		quiet:     q,
	}
}

// Format implements xlog.Formatter
func (f *Formatter) Format(pkg string, level xlog.LogLevel, depth int, entries ...any) {
	if f.muted(pkg, level) {
		return
	}
	msg, redacted, ok := f.redactor.safeRedact(pkg, func() string {
		return fmt.Sprint(entries...)
	})
	if !ok {
		return
	}
	defer dropOnPanic()
	if redacted {
		f.Formatter.Format(pkg, level, depth+1, msg)
		return
	}
	f.Formatter.Format(pkg, level, depth+1, entries...)
}

// FormatKV implements xlog.Formatter
func (f *Formatter) FormatKV(pkg string, level xlog.LogLevel, depth int, entries ...any) {
	if f.muted(pkg, level) {
		return
	}
	msg, redacted, ok := f.redactor.safeRedact(pkg, func() string {
		return renderKV(entries)
	})
	if !ok {
		return
	}
	defer dropOnPanic()
	if redacted {
		f.Formatter.Format(pkg, level, depth+1, msg)
		return
	}
	f.Formatter.FormatKV(pkg, level, depth+1, entries...)
}

// dropOnPanic loses the record when the inner formatter panics
// while escaping a value.
func dropOnPanic() {
	_ = recover()
}

func (f *Formatter) muted(pkg string, level xlog.LogLevel) bool {
	if len(f.quiet) == 0 || level <= xlog.WARNING {
		return false
	}
	if f.quiet[pkg] {
		return true
	}
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		return f.quiet[pkg[i+1:]]
	}
	return false
}

func renderKV(entries []any) string {
	var b strings.Builder
	for i := 0; i < len(entries); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprint(&b, entries[i])
		b.WriteByte('=')
		if i+1 < len(entries) {
			fmt.Fprint(&b, entries[i+1])
		}
	}
	return b.String()
}

// Writer is an io.Writer that redacts each written record.
// It backs the standard library logger.
type Writer struct {
	out      io.Writer
	channel  string
	redactor *Redactor
	lock     sync.Mutex
}

// NewWriter returns a redacting writer over out.
func NewWriter(out io.Writer, channel string, redactor *Redactor) *Writer {
	return &Writer{
		out:      out,
		channel:  channel,
		redactor: redactor,
	}
}

// Write implements io.Writer. It always reports len(p) so callers never
// see a failure caused by redaction.
func (w *Writer) Write(p []byte) (int, error) {
	msg, redacted, ok := w.redactor.safeRedact(w.channel, func() string {
		return string(p)
	})
	if !ok {
		return len(p), nil
	}
	if redacted {
		msg += "\n"
	}

	w.lock.Lock()
	defer w.lock.Unlock()
	_, _ = io.WriteString(w.out, msg)
	return len(p), nil
}
