package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	ddns "github.com/Travis-Britz/ddnsd"
	"github.com/cloudflare/cloudflare-go"
	"golang.org/x/term"
)

type setupCmd struct {
	Force bool `help:"Overwrite an existing key file"`
}

func (c *setupCmd) Run(g *Globals, logger *slog.Logger) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("setup must be run from an interactive terminal")
	}
	if _, err := os.Stat(g.KeyFile); err == nil && !c.Force {
		return fmt.Errorf("key file \"%s\" already exists; use --force to replace it", g.KeyFile)
	}

	logger.Debug("running setup")
	fmt.Fprint(os.Stderr, "Enter Cloudflare API Token: ")
	bytekey, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("setup: error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("verifying token...")
	if err := verifyToken(ctx, key); err != nil {
		return err
	}
	logger.Info("token verified successfully")

	if err := writeKey(g.KeyFile, key, c.Force); err != nil {
		return err
	}
	logger.Info("token written", "path", g.KeyFile)
	return nil
}

func verifyToken(ctx context.Context, key string) error {
	api, err := cloudflare.NewWithAPIToken(key)
	if err != nil {
		return ddns.NewError(ddns.KindConfig, "setup", fmt.Errorf("error creating api client: %w", err))
	}
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	return nil
}

// writeKey stores key in a file readable only by the owner.
func writeKey(path, key string, overwrite bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", path, err)
	}
	defer f.Close()
	if err := f.Chmod(0600); err != nil {
		return fmt.Errorf("unable to set permissions on \"%s\": %w", path, err)
	}
	if _, err := fmt.Fprintln(f, key); err != nil {
		return fmt.Errorf("unable to write \"%s\": %w", path, err)
	}
	return nil
}
