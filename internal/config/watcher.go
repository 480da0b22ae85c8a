package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher monitors the config file and reloads the tuning section on
// change. Only Tuning is hot-swapped; connection settings require a restart.
// Falls back to 60s polling when fsnotify is unavailable.
func StartWatcher(ctx context.Context, path string, tun *Tunables) {
	if path == "" {
		return
	}

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Printf("[ERROR] Config Watcher: reload failed: %v", err)
			return
		}
		tun.Set(cfg.Tuning)
		log.Printf("Config Watcher: tuning reloaded from %s", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(path)
	}
	if err != nil {
		log.Printf("Config Watcher: fsnotify unavailable (%v), polling every 60s", err)
		go func() {
			ticker := time.NewTicker(60 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					reload()
				}
			}
		}()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Editors often write twice; let the file settle.
					time.Sleep(100 * time.Millisecond)
					reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[ERROR] Config Watcher: %v", err)
			}
		}
	}()
}
