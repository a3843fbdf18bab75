//go:build !linux

package main

import "log/slog"

func notifyReady(*slog.Logger) {}

func notifyStopping() {}
