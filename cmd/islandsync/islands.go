package main

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/zeusync/islandsync/internal/config"
	"github.com/zeusync/islandsync/internal/core/engine"
	"github.com/zeusync/islandsync/internal/core/observability/log"
	"github.com/zeusync/islandsync/internal/core/resolver"
)

// islandSet keeps the engine's mounts equal to the latest manifest.
type islandSet struct {
	engine *engine.Engine
	logger log.Log

	mu      sync.Mutex
	current config.Manifest
}

func newIslandSet(e *engine.Engine, logger log.Log) *islandSet {
	return &islandSet{engine: e, logger: logger}
}

// Apply unmounts removed islands, remounts changed ones and mounts new ones.
// Headless sessions render nothing, so every component name resolves to
// itself.
func (s *islandSet) Apply(ctx context.Context, next config.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	diff := s.current.Diff(next)
	if diff.Empty() {
		return nil
	}

	for _, id := range diff.Removed {
		s.engine.Unmount(id)
	}
	for _, island := range append(diff.Changed, diff.Added...) {
		if err := s.register(island.Component); err != nil {
			return err
		}
		if err := s.engine.Mount(ctx, island.Descriptor()); err != nil {
			return err
		}
	}

	s.current = next
	s.logger.Info("Islands synchronized",
		log.Int("added", len(diff.Added)),
		log.Int("changed", len(diff.Changed)),
		log.Int("removed", len(diff.Removed)),
		log.Int("mounted", len(next.Islands)))
	return nil
}

func (s *islandSet) register(name string) error {
	res := s.engine.Resolver()
	if res.Registered(name) {
		return nil
	}
	return errors.Wrapf(res.Register(name, resolver.Direct(name)), "register %q", name)
}

// watchManifest reapplies the manifest whenever it changes on disk. The
// directory is watched so editors that replace the file are followed.
// Unreadable or invalid versions are logged and skipped.
func watchManifest(ctx context.Context, path string, islands *islandSet, logger log.Log) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err = watcher.Add(filepath.Dir(target)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(target))
	}
	logger.Info("Watching island manifest", log.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			manifest, err := config.LoadManifest(target)
			if err != nil {
				logger.Warn("Ignoring manifest change", log.Error(err))
				continue
			}
			if err = islands.Apply(ctx, manifest); err != nil {
				logger.Warn("Failed to apply manifest", log.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Manifest watcher error", log.Error(err))
		}
	}
}
