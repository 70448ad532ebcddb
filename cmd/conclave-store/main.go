// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// conclave-store is an operator tool for inspecting a conclave state
// store: schema version, room list, device lists and session counters.
// It never prints key material.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"

	"github.com/conclave-im/conclave/store"
	"github.com/conclave-im/conclave/store/kv"
	"github.com/conclave-im/conclave/store/migrate"
)

type config struct {
	DB       string `short:"d" long:"db" description:"Path to the state store database file" required:"true"`
	PassFile string `long:"passfile" description:"File containing the store passphrase"`
	Pass     string `short:"p" long:"pass" description:"Store passphrase (prefer --passfile)"`
	Debug    bool   `long:"debug" description:"Enable debug logging"`

	Args struct {
		Command string `positional-arg-name:"command" description:"info | rooms | devices <user> | sessions <scope> | timeline <room>"`
		Arg     string `positional-arg-name:"arg"`
	} `positional-args:"yes"`
}

func setupLogging(debug bool) {
	backend := btclog.NewBackend(os.Stderr)
	level := btclog.LevelInfo
	if debug {
		level = btclog.LevelDebug
	}
	for tag, use := range map[string]func(btclog.Logger){
		"STOR": store.UseLogger,
		"KVDB": kv.UseLogger,
		"MIGR": migrate.UseLogger,
	} {
		logger := backend.Logger(tag)
		logger.SetLevel(level)
		use(logger)
	}
}

func passphrase(cfg *config) ([]byte, error) {
	if cfg.PassFile != "" {
		b, err := os.ReadFile(cfg.PassFile)
		if err != nil {
			return nil, err
		}
		return []byte(strings.TrimRight(string(b), "\r\n")), nil
	}
	if cfg.Pass != "" {
		return []byte(cfg.Pass), nil
	}
	return nil, fmt.Errorf("no passphrase given; use --pass or --passfile")
}

func run() error {
	cfg := &config{}
	if _, err := flags.Parse(cfg); err != nil {
		return err
	}
	setupLogging(cfg.Debug)

	pass, err := passphrase(cfg)
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.DB, pass)
	if err != nil {
		return err
	}
	defer s.Close()

	switch cfg.Args.Command {
	case "", "info":
		fmt.Printf("instance:       %s\n", s.InstanceID())
		fmt.Printf("schema version: %d\n", s.SchemaVersion())
		return nil

	case "rooms":
		rooms, err := s.Rooms()
		if err != nil {
			return err
		}
		for _, r := range rooms {
			fmt.Printf("%s\tstate=%d\tlast=%d\n", r.RoomID, r.StateEvents, r.LastPosition)
		}
		return nil

	case "devices":
		if cfg.Args.Arg == "" {
			return fmt.Errorf("devices needs a user ID")
		}
		devices, err := s.DeviceList(store.UserID(cfg.Args.Arg))
		if err != nil {
			return err
		}
		for _, d := range devices {
			fmt.Printf("%s\tverified=%v\t%s\n", d.DeviceID, d.Verified, d.DisplayName)
		}
		return nil

	case "sessions":
		if cfg.Args.Arg == "" {
			return fmt.Errorf("sessions needs a scope ID")
		}
		sessions, err := s.Sessions(cfg.Args.Arg)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			fmt.Printf("%s\ttype=%d\tratchet=%d\n", sess.SessionID, sess.Type, sess.Ratchet)
		}
		return nil

	case "timeline":
		if cfg.Args.Arg == "" {
			return fmt.Errorf("timeline needs a room ID")
		}
		events, err := s.TimelineRange(store.RoomID(cfg.Args.Arg), 0, 0, 50)
		if err != nil {
			return err
		}
		for _, e := range events {
			content := string(e.Content)
			if e.Redacted {
				content = "(redacted by " + e.RedactedBy + ")"
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", e.Position, e.Sender, e.Type, content)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", cfg.Args.Command)
	}
}

func main() {
	if err := run(); err != nil {
		if !flags.WroteHelp(err) {
			fmt.Fprintln(os.Stderr, "conclave-store:", err)
		}
		os.Exit(1)
	}
}
