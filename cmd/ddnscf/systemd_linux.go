//go:build linux

package main

import (
	"log/slog"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

func notifyReady(logger *slog.Logger) {
	sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	if err != nil {
		logger.Warn("unable to notify systemd", "error", err)
		return
	}
	if sent {
		logger.Debug("notified systemd of readiness")
	}
}

func notifyStopping() {
	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
}
