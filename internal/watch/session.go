// Package watch owns the viewer's single filesystem watch.
//
// A Session holds at most one live watch. Starting a watch replaces the
// previous one under the same lock, so callers never observe two active
// watches or a half-registered one.
package watch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mdview/internal/logging"
	"mdview/internal/metrics"
)

// Event is one filesystem notification for the watched path.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Session is the zero-or-one watch slot. The notify callback runs on the
// watch's own goroutine and must not call back into the Session.
type Session struct {
	mutex  sync.Mutex
	active *handle
	notify func(Event)
	logger *slog.Logger
}

// NewSession returns an empty session delivering events to notify.
func NewSession(notify func(Event), logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	if notify == nil {
		notify = func(Event) {}
	}
	return &Session{
		notify: notify,
		logger: logger.With("component", "watch"),
	}
}

// Start replaces any active watch with a non-recursive watch on path. The
// previous watch is stopped even when the new one fails to register.
func (s *Session) Start(path string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.discardLocked()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		s.logger.Debug("watch registration failed", "path", path, logging.Err(err))
		return err
	}

	s.active = newHandle(path, watcher)
	go s.active.run(s.notify, s.logger)
	metrics.WatchActive.Set(1)
	s.logger.Info("watch started", "path", path)
	return nil
}

// Stop discards the active watch. It is a no-op when nothing is watched.
func (s *Session) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.discardLocked()
}

// Close releases the active watch on shutdown.
func (s *Session) Close() error {
	s.Stop()
	return nil
}

// Active reports the watched path, if any.
func (s *Session) Active() (string, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.path, true
}

func (s *Session) discardLocked() {
	if s.active == nil {
		return
	}
	path := s.active.path
	if err := s.active.stop(); err != nil {
		s.logger.Warn("watch close failed", "path", path, logging.Err(err))
	}
	s.active = nil
	metrics.WatchActive.Set(0)
	s.logger.Info("watch stopped", "path", path)
}

// handle is one live fsnotify registration and the goroutine draining it.
type handle struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
	exited  chan struct{}
}

func newHandle(path string, watcher *fsnotify.Watcher) *handle {
	return &handle{
		path:    path,
		watcher: watcher,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (h *handle) run(notify func(Event), logger *slog.Logger) {
	defer close(h.exited)
	for {
		select {
		case <-h.done:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			// stop may have raced with this receive.
			select {
			case <-h.done:
				return
			default:
			}
			metrics.WatchEvents.WithLabelValues(event.Op.String()).Inc()
			notify(Event{Path: h.path, Op: event.Op, Timestamp: time.Now()})
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watch error", "path", h.path, logging.Err(err))
		}
	}
}

// stop returns once the run goroutine has exited, so no event is delivered
// after it.
func (h *handle) stop() error {
	close(h.done)
	err := h.watcher.Close()
	<-h.exited
	return err
}
