package tasks

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"coadd/internal/fsutil"
)

// SessionEvent signals that a watched directory has gone quiet after
// receiving new frames and is ready to combine.
type SessionEvent struct {
	Dir    string    `json:"dir"`
	Frames int       `json:"frames"`
	Time   time.Time `json:"time"`
}

// SessionWatcher monitors incoming directories and emits a SessionEvent
// once a directory stops changing for the settle duration. Cameras and
// transfer tools write frames one at a time, so a per-directory debounce
// timer prevents combining a half-transferred session.
type SessionWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan SessionEvent
	watchDirs []string
	settle    time.Duration
	done      chan struct{}

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewSessionWatcher creates a watcher over the given directories.
func NewSessionWatcher(watchPaths []string, settle time.Duration) (*SessionWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = 30 * time.Second
	}

	return &SessionWatcher{
		watcher:   watcher,
		Events:    make(chan SessionEvent, 16),
		watchDirs: watchPaths,
		settle:    settle,
		done:      make(chan struct{}),
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Start begins monitoring the configured directories.
func (sw *SessionWatcher) Start() error {
	for _, dir := range sw.watchDirs {
		if err := sw.watcher.Add(dir); err != nil {
			return err
		}
		log.Printf("watching session directory: %s", dir)
	}

	go sw.processEvents()
	return nil
}

// Stop stops the watcher. Pending settle timers are cancelled.
func (sw *SessionWatcher) Stop() error {
	sw.mu.Lock()
	if sw.stopped {
		sw.mu.Unlock()
		return nil
	}
	sw.stopped = true
	close(sw.done)
	for dir, t := range sw.timers {
		t.Stop()
		delete(sw.timers, dir)
	}
	close(sw.Events)
	sw.mu.Unlock()
	return sw.watcher.Close()
}

func (sw *SessionWatcher) processEvents() {
	for {
		select {
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !fsutil.IsFrameFile(event.Name) {
				continue
			}
			sw.touch(filepath.Dir(event.Name))

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("session watcher error: %v", err)

		case <-sw.done:
			return
		}
	}
}

// touch resets the settle timer for dir.
func (sw *SessionWatcher) touch(dir string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if t, ok := sw.timers[dir]; ok {
		t.Reset(sw.settle)
		return
	}
	sw.timers[dir] = time.AfterFunc(sw.settle, func() {
		sw.settled(dir)
	})
}

func (sw *SessionWatcher) settled(dir string) {
	frames, err := fsutil.ListFrames(dir)
	if err != nil {
		log.Printf("failed to list settled session %s: %v", dir, err)
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	delete(sw.timers, dir)
	if sw.stopped || len(frames) == 0 {
		return
	}

	ev := SessionEvent{Dir: dir, Frames: len(frames), Time: time.Now()}
	select {
	case sw.Events <- ev:
	default:
		log.Printf("session event buffer full, dropping event for %s", dir)
	}
}
