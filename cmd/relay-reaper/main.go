package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// relay-reaper deletes stale correlation records from a filesystem store.
// Retention is deliberately external to the relay service itself; the
// service never deletes records.
func main() {
	storeRoot := flag.String("store-root", "/var/lib/relay", "Correlation store root directory")
	ttl := flag.Duration("ttl", 24*time.Hour, "Delete records older than this")
	schedule := flag.String("schedule", "@every 1h", "Cron schedule for sweeps")
	once := flag.Bool("once", false, "Run one sweep and exit")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.NewEntry(logger)

	if *once {
		if err := sweep(*storeRoot, *ttl, log); err != nil {
			log.WithError(err).Fatal("sweep failed")
		}
		return
	}

	c := cron.New()
	_, err := c.AddFunc(*schedule, func() {
		if err := sweep(*storeRoot, *ttl, log); err != nil {
			log.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("invalid schedule")
	}

	log.WithFields(logrus.Fields{"schedule": *schedule, "ttl": ttl.String()}).Info("reaper started")
	c.Run()
}

// sweep removes record directories whose last modification is older than
// the TTL. A record's directory mtime moves on every field write, so a
// flow still in progress is never reaped mid-flight with a sane TTL.
func sweep(storeRoot string, ttl time.Duration, log *logrus.Entry) error {
	stateDir := filepath.Join(storeRoot, "state")
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(stateDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.WithError(err).WithField("token", entry.Name()).Warn("failed to remove record")
			continue
		}
		removed++
	}

	log.WithFields(logrus.Fields{"removed": removed, "ttl": ttl.String()}).Info("sweep complete")
	return nil
}
