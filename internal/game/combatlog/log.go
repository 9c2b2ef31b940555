package combatlog

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNoSink is returned by a sink that has nowhere to write.
var ErrNoSink = errors.New("no log sink available")

// Sink accepts structured entries.
type Sink interface {
	Record(Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Entry) error

// Record calls f.
func (f SinkFunc) Record(e Entry) error { return f(e) }

// Panel is a log display that only accepts preformatted lines.
type Panel interface {
	AppendLine(line string)
}

// PanelAdapter exposes a Panel as a Sink.
type PanelAdapter struct {
	Panel Panel
}

// Record renders e and appends it to the panel.
func (a PanelAdapter) Record(e Entry) error {
	if a.Panel == nil {
		return ErrNoSink
	}
	a.Panel.AppendLine(e.String())
	return nil
}

// Discoverer looks up an external log panel. It reports false when none is
// currently available.
type Discoverer func() (Panel, bool)

// Log routes entries to the first working sink: the cached external sink, then
// a discovered external panel, then the local fallback. Every entry is also
// kept in memory.
//
// Record never returns an error and never panics; sink failures are logged
// and fall through to the next option.
type Log struct {
	mu       sync.Mutex
	external Sink
	discover Discoverer
	local    Sink
	entries  []Entry
	logger   *zap.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithExternal sets the cached external sink.
func WithExternal(s Sink) Option {
	return func(l *Log) { l.external = s }
}

// WithDiscovery sets the lookup used when no external sink is cached.
func WithDiscovery(d Discoverer) Option {
	return func(l *Log) { l.discover = d }
}

// New creates a Log whose last-resort sink is local.
//
// Precondition: logger must be non-nil. local may be nil, in which case
// entries are only retained in memory.
func New(local Sink, logger *zap.Logger, opts ...Option) *Log {
	l := &Log{local: local, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends e and delivers it.
func (l *Log) Record(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	external, discover, local := l.external, l.discover, l.local
	l.mu.Unlock()

	if external != nil {
		if err := l.try("external", external, e); err == nil {
			return
		}
		l.mu.Lock()
		if l.external == external {
			l.external = nil
		}
		l.mu.Unlock()
	}
	if discover != nil {
		if panel, ok := l.lookup(discover); ok {
			adapter := PanelAdapter{Panel: panel}
			if err := l.try("discovered", adapter, e); err == nil {
				l.mu.Lock()
				l.external = adapter
				l.mu.Unlock()
				return
			}
		}
	}
	if local != nil {
		_ = l.try("local", local, e)
	}
}

// Recordf records an entry in category whose action is formatted text.
func (l *Log) Recordf(category Category, round int, format string, args ...any) {
	l.Record(Entry{Category: category, Action: fmt.Sprintf(format, args...), Round: round})
}

// Entries returns a copy of everything recorded so far.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Reset drops the in-memory history. Sinks are unaffected.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func (l *Log) try(name string, s Sink, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
		if err != nil {
			l.logger.Warn("combat log sink failed",
				zap.String("sink", name),
				zap.Error(err),
			)
		}
	}()
	return s.Record(e)
}

func (l *Log) lookup(d Discoverer) (p Panel, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("combat log discovery panicked", zap.Any("panic", r))
			p, ok = nil, false
		}
	}()
	p, ok = d()
	if ok && p == nil {
		return nil, false
	}
	return p, ok
}
