package options

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads an options file whenever it changes on disk. Only options
// that are safe to change in a running process should be read from its
// updates (the verbosity level).
type Watcher struct {
	w    *fsnotify.Watcher
	path string
	base Options
	upC  chan Options
	erC  chan error
	done chan struct{}
}

// Watch starts watching path. Each successful reload is decoded over base.
func Watch(path string, base Options) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	ow := &Watcher{
		w:    w,
		path: filepath.Clean(path),
		base: base,
		upC:  make(chan Options, 1),
		erC:  make(chan error, 1),
		done: make(chan struct{}),
	}
	go ow.loop()
	return ow, nil
}

func (ow *Watcher) loop() {
	defer close(ow.done)
	for {
		select {
		case ev, ok := <-ow.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != ow.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			o, err := LoadFile(ow.path, ow.base)
			if err != nil {
				ow.report(err)
				continue
			}
			// Keep only the newest configuration.
			select {
			case <-ow.upC:
			default:
			}
			ow.upC <- o
		case err, ok := <-ow.w.Errors:
			if !ok {
				return
			}
			ow.report(err)
		}
	}
}

func (ow *Watcher) report(err error) {
	select {
	case ow.erC <- err:
	default:
	}
}

// Updates delivers reloaded options.
func (ow *Watcher) Updates() <-chan Options { return ow.upC }

// Errors delivers reload and watch errors. Errors are dropped while one is
// pending.
func (ow *Watcher) Errors() <-chan error { return ow.erC }

// Close stops the watcher.
func (ow *Watcher) Close() error {
	err := ow.w.Close()
	<-ow.done
	return err
}
