package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// newWatcher wires an fsnotify watcher to reload the config file whenever it
// changes on disk and hand the reloaded Config to onChange. Components built
// from the earlier Config are not reconfigured by this.
func newWatcher(path string, onChange func(Config)) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Printf("config: reload failed, keeping previous config: %v", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("config: watcher error: %v", err)
			}
		}
	}()

	return w, nil
}
