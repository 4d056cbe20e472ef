package server

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// WatchOrphan polls the parent process id and calls onOrphan once the
// process has been re-parented to init, meaning whoever supervised
// this server is gone. Returns when ctx is cancelled.
func WatchOrphan(ctx context.Context, log logrus.FieldLogger, onOrphan func()) {
	ppid := os.Getppid()
	ticker := time.NewTicker(time.Second)

	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if current := os.Getppid(); current != ppid {
				log.WithFields(logrus.Fields{
					"was": ppid,
					"now": current,
				}).Info("Parent process gone, shutting down")

				onOrphan()

				return
			}
		}
	}
}
