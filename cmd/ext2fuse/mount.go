package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chiro2001/ext2fuse/cfg"
	"github.com/chiro2001/ext2fuse/internal/clock"
	"github.com/chiro2001/ext2fuse/internal/ext2/fs"
	"github.com/chiro2001/ext2fuse/internal/fuseadapter"
	"github.com/chiro2001/ext2fuse/internal/logger"
)

// runMount opens/formats the device c describes, mounts it at
// c.MountPoint, and blocks until the mount is unmounted (either by the
// kernel, by a signal, or by Destroy), in the idiom of distri's
// cmd/distri/fuse.go mountAndServe.
func runMount(c cfg.Config) error {
	logger.SetLogFormat(string(c.LogFormat))
	if err := logger.InitLogFile(c.LogFile, string(c.LogSeverity), string(c.LogFormat), logger.DefaultRotateConfig()); err != nil {
		return fmt.Errorf("ext2fuse: initializing log file: %w", err)
	}
	logger.SetLoggingLevel(string(c.LogSeverity))

	if c.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Infof("ext2fuse: serving metrics on %s", c.MetricsAddr)
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				logger.Errorf("ext2fuse: metrics server: %v", err)
			}
		}()
	}

	dev, err := fs.OpenDevice(c)
	if err != nil {
		return fmt.Errorf("ext2fuse: opening device: %w", err)
	}

	vol, err := fs.Mount(dev, c, clock.RealClock{})
	if err != nil {
		return fmt.Errorf("ext2fuse: mounting volume: %w", err)
	}

	adapter := fuseadapter.New(vol)
	server := fuseutil.NewFileSystemServer(adapter)

	mfs, err := fuse.Mount(c.MountPoint, server, &fuse.MountConfig{
		FSName:   "ext2fuse",
		ReadOnly: c.ReadOnly,
		Options: map[string]string{
			"allow_other": "",
		},
	})
	if err != nil {
		return fmt.Errorf("ext2fuse: mount: %w", err)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		logger.Infof("ext2fuse: signal received, unmounting %s", c.MountPoint)
		if err := fuse.Unmount(c.MountPoint); err != nil {
			logger.Errorf("ext2fuse: unmount: %v", err)
		}
	}()

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("ext2fuse: serving: %w", err)
	}
	return nil
}
