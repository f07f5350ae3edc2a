// Copyright 2020 Hewlett Packard Enterprise Development LP

// Package util holds small host-facing helpers for cmd/ldmscan that
// don't belong in the ldm/dmplan/dmexec parsing-and-execution
// packages themselves.
package util

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	notify "github.com/fsnotify/fsnotify"

	"github.com/mdbooth/libldm/ldm/ldmlog"
)

// DeviceWatcher re-runs a rescan callback whenever fsnotify reports a
// change under a watched directory — typically /dev, where udev
// creates and removes block device nodes as disks come and go.
// Adapted from the teacher's generic FileWatch: narrowed to the one
// job this module needs (re-scan on device-node churn for
// `ldmscan --watch`) and moved off the teacher's own logger onto this
// module's logrus-based ldmlog.
type DeviceWatcher struct {
	stop    chan struct{}
	watcher *notify.Watcher
	rescan  func()
	wg      sync.WaitGroup
}

// NewDeviceWatcher creates a DeviceWatcher that calls rescan after
// every fsnotify event under the watched paths, until Stop is called
// or the process receives a terminating signal.
func NewDeviceWatcher(rescan func()) (*DeviceWatcher, error) {
	log := ldmlog.Entry("util.DeviceWatcher")
	defer ldmlog.Enter(log, "NewDeviceWatcher")()

	w, err := notify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dw := &DeviceWatcher{
		stop:    make(chan struct{}),
		watcher: w,
		rescan:  rescan,
	}
	dw.wg.Add(1)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		sig := <-sigc
		log.Infof("received %s, stopping device watcher", sig)
		dw.Stop()
		dw.wg.Wait()
	}()

	return dw, nil
}

// Add registers a directory (or device node) to watch for changes.
func (w *DeviceWatcher) Add(path string) error {
	return w.watcher.Add(path)
}

// Run blocks, invoking the rescan callback once per fsnotify event,
// until Stop is called or the watcher's channel is closed.
func (w *DeviceWatcher) Run() {
	log := ldmlog.Entry("util.DeviceWatcher")
	defer ldmlog.Enter(log, "Run")()

	for {
		select {
		case <-w.stop:
			w.wg.Done()
			_ = w.watcher.Close()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			log.WithField("event", event.String()).Debug("device node change, rescanning")
			w.rescan()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("device watcher error")
		}
	}
}

// Stop ends a running Watcher's Run loop.
func (w *DeviceWatcher) Stop() {
	close(w.stop)
}
