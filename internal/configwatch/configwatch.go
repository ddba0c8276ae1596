// Package configwatch hot-reloads the GossipSub and Relay tuning tables
// from the node's JSON configuration file and publishes each reload (or
// reload failure) as an event. It does not apply the new values itself:
// cmd/p2pcore only logs a reload, so a running router or relay client
// keeps the tuning it was started with.
package configwatch

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"

	"github.com/p2pstack/corenet/internal/config"
	"github.com/p2pstack/corenet/internal/eventbus"
)

var log = logging.Logger("configwatch")

// EventKind tags a watcher Event.
type EventKind int

const (
	// EventReloaded carries a newly loaded and validated configuration.
	EventReloaded EventKind = iota
	// EventReloadFailed reports a reload attempt that failed validation
	// or parsing; the previously loaded configuration remains current.
	EventReloadFailed
)

// Event is emitted on the watcher's bus whenever the backing file changes.
type Event struct {
	Kind   EventKind
	Config config.Config
	Err    error
}

// Watcher watches one configuration file and keeps the last successfully
// loaded config available via Current, broadcasting every reload attempt
// on its event bus.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	bus     *eventbus.Bus[Event]
	closed  chan struct{}
	closeMu sync.Once

	mu      sync.Mutex
	current config.Config
}

// New starts watching path's parent directory (so an editor's
// write-new-file-then-rename save pattern is still observed) and returns
// a Watcher seeded with initial as the current configuration.
func New(path string, initial config.Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		fsw:     fsw,
		bus:     eventbus.New[Event](),
		closed:  make(chan struct{}),
		current: initial,
	}
	go w.watchLoop()
	log.Infof("configwatch: watching %s", path)
	return w, nil
}

// Current returns the most recently loaded valid configuration.
func (w *Watcher) Current() config.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Events returns a subscription to reload attempts.
func (w *Watcher) Events() *eventbus.Subscription[Event] {
	return w.bus.Subscribe()
}

// Close stops the underlying fsnotify watcher and the watch loop.
func (w *Watcher) Close() {
	w.closeMu.Do(func() {
		close(w.closed)
		w.fsw.Close()
	})
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warnf("configwatch: watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		log.Warnf("configwatch: reload of %s failed: %v", w.path, err)
		w.bus.Emit(Event{Kind: EventReloadFailed, Err: err})
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	log.Infof("configwatch: reloaded %s", w.path)
	w.bus.Emit(Event{Kind: EventReloaded, Config: cfg})
}
