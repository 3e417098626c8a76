package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/ethpir/statepir/config"
	"github.com/ethpir/statepir/server"
	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// newCmd_Serve starts the two listeners one lane registry is served
// behind: the fasthttp hot path for POST /query/<lane>/seeded/binary, and
// the net/http mux for everything byte-range/JSON/WS shaped, generalized
// from cmd-rpc.go's "rpc" command (flag names, the fsnotify watch loop,
// and the errgroup-bounded startup all carried over directly).
func newCmd_Serve() *cli.Command {
	var queryListenOn string
	var staticListenOn string
	var watch bool
	var laneLoadConcurrency int

	return &cli.Command{
		Name:        "serve",
		Usage:       "Serve one or more lanes over HTTP.",
		Description: "Provide one or more lane config files or directories of config files, and start the query and static HTTP endpoints.",
		ArgsUsage:   "<one or more config files or directories containing config files>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "query-listen",
				Usage:       "Listen address for the query endpoint",
				Value:       ":8080",
				Destination: &queryListenOn,
			},
			&cli.StringFlag{
				Name:        "static-listen",
				Usage:       "Listen address for the static/JSON/WS endpoints",
				Value:       ":8081",
				Destination: &staticListenOn,
			},
			&cli.BoolFlag{
				Name:        "watch",
				Usage:       "Watch the config directories for changes, and live-(re)load lanes",
				Value:       false,
				Destination: &watch,
			},
			&cli.IntFlag{
				Name:        "lane-load-concurrency",
				Usage:       "How many lanes to open in parallel at startup",
				Value:       runtime.NumCPU(),
				Destination: &laneLoadConcurrency,
			},
		},
		Action: func(c *cli.Context) error {
			src := c.Args().Slice()
			if len(src) == 0 {
				return cli.Exit("at least one config file or directory is required", 1)
			}

			configs, dirs, err := loadConfigArgs(src)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if err := configs.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error validating configs: %s", err.Error()), 1)
			}
			configs.SortByLane()
			klog.Infof("serve: loaded %d lane configs", len(configs))

			multi := server.NewMultiLane()
			defer func() {
				if err := multi.Close(); err != nil {
					klog.Errorf("serve: closing lanes: %v", err)
				}
			}()

			wg := new(errgroup.Group)
			wg.SetLimit(laneLoadConcurrency)
			for _, cfg := range configs {
				cfg := cfg
				wg.Go(func() error {
					lane, err := server.OpenLane(c.Context, cfg)
					if err != nil {
						return fmt.Errorf("opening lane %q: %w", cfg.Lane, err)
					}
					if err := multi.Add(lane); err != nil {
						return fmt.Errorf("registering lane %q: %w", cfg.Lane, err)
					}
					klog.Infof("serve: lane %q ready (%d entries)", lane.Name(), lane.Count())
					return nil
				})
			}
			if err := wg.Wait(); err != nil {
				return cli.Exit(err.Error(), 1)
			}

			srv, err := server.NewServer(multi)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			if watch {
				if err := watchConfigDirs(c.Context, dirs, multi); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			}

			listeners := new(errgroup.Group)
			listeners.Go(func() error { return srv.ListenAndServeQuery(c.Context, queryListenOn) })
			listeners.Go(func() error { return srv.ListenAndServeStatic(c.Context, staticListenOn) })
			return listeners.Wait()
		},
	}
}

// loadConfigArgs loads every lane config named directly by src (files) or
// found directly under src (directories, matching config.LoadDir's
// single-level scope), and returns the directories seen so a --watch
// caller knows what to fsnotify.
func loadConfigArgs(src []string) (config.Slice, []string, error) {
	var configs config.Slice
	var dirs []string
	for _, item := range src {
		info, err := os.Stat(item)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %q: %w", item, err)
		}
		if info.IsDir() {
			dirs = append(dirs, item)
			loaded, err := config.LoadDir(item)
			if err != nil {
				return nil, nil, err
			}
			configs = append(configs, loaded...)
			continue
		}
		cfg, err := config.LoadConfig(item)
		if err != nil {
			return nil, nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, dirs, nil
}

// fileProcessingTracker deduplicates concurrent fsnotify events for the
// same file, directly ported from cmd-rpc.go's onFileChanged helper.
type fileProcessingTracker struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func (t *fileProcessingTracker) isBeingProcessedOrAdd(filename string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[filename]
	if !ok {
		t.m[filename] = struct{}{}
	}
	return ok
}

func (t *fileProcessingTracker) removeFromList(filename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, filename)
}

// watchConfigDirs wires an fsnotify watcher over dirs, hot-reloading lanes
// into multi on create/write and unregistering them on remove, the same
// shape as cmd-rpc.go's onFileChanged/MultiEpoch pairing but driven by
// lane name instead of epoch number.
func watchConfigDirs(ctx context.Context, dirs []string, multi *server.MultiLane) error {
	if len(dirs) == 0 {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("serve: creating watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("serve: watching %q: %w", dir, err)
		}
	}
	klog.Infof("serve: watching %d directories for config changes", len(dirs))

	tracker := &fileProcessingTracker{m: make(map[string]struct{})}
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
				if tracker.isBeingProcessedOrAdd(event.Name) {
					continue
				}
				go func(event fsnotify.Event) {
					defer tracker.removeFromList(event.Name)
					handleConfigEvent(event, multi)
				}(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				klog.Errorf("serve: watch error: %v", err)
			}
		}
	}()
	return nil
}

func handleConfigEvent(event fsnotify.Event, multi *server.MultiLane) {
	if !isConfigFile(event.Name) {
		return
	}
	switch event.Op {
	case fsnotify.Write, fsnotify.Create:
		cfg, err := config.LoadConfig(event.Name)
		if err != nil {
			klog.Errorf("serve: loading %q: %v", event.Name, err)
			return
		}
		lane, err := server.OpenLane(context.Background(), cfg)
		if err != nil {
			klog.Errorf("serve: opening lane from %q: %v", event.Name, err)
			return
		}
		if err := multi.ReplaceOrAdd(lane); err != nil {
			klog.Errorf("serve: registering lane %q: %v", lane.Name(), err)
			return
		}
		klog.Infof("serve: lane %q (re)loaded from %q", lane.Name(), event.Name)
	case fsnotify.Remove:
		name, err := multi.RemoveByConfigFilepath(event.Name)
		if err != nil {
			klog.Warningf("serve: removing lane for %q: %v", event.Name, err)
			return
		}
		klog.Infof("serve: lane %q removed (config file %q gone)", name, event.Name)
	}
}

func isConfigFile(path string) bool {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if len(path) >= len(ext) && path[len(path)-len(ext):] == ext {
			return true
		}
	}
	return false
}
