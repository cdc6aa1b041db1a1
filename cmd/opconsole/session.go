package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kalambet/opconsole/internal/backend"
	"github.com/kalambet/opconsole/internal/config"
	"github.com/kalambet/opconsole/internal/console"
	"github.com/kalambet/opconsole/internal/graph"
	"github.com/kalambet/opconsole/internal/poll"
	"github.com/kalambet/opconsole/internal/storage"
)

const logFileName = "opconsole.log"

// session is everything a backend-facing command needs: config, the local
// journal, the backend client and a console restored from the journal.
type session struct {
	cfg     config.Config
	store   *storage.Store
	client  *backend.Client
	console *console.Console
	logger  *slog.Logger
	logFile *os.File
}

// openSession loads config and wires storage, backend and console. With
// logToFile the process log goes to the data dir instead of stderr, which
// keeps the terminal clean for the live console.
func openSession(logToFile bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	var logOut io.Writer = os.Stderr
	if logToFile {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Storage.DataDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		s.logFile = f
		logOut = f
	}
	s.logger = newLogger(cfg.Log.Level, cfg.Log.Format, logOut)
	slog.SetDefault(s.logger)

	s.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	s.client = backend.New(cfg.Backend.BaseURL, backend.Options{
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
	})
	s.console = console.New(s.client, console.Options{
		Cadence: poll.Cadence{
			GraphActive: cfg.Poll.GraphActive,
			GraphIdle:   cfg.Poll.GraphIdle,
			Timeline:    cfg.Poll.Timeline,
			RunLog:      cfg.Poll.RunLog,
		},
		MaxBackoffFactor: cfg.Poll.MaxBackoffFactor,
		TunnelNode:       cfg.Graph.TunnelNode,
		IDs:              graph.UUIDIDs{},
		Journal:          s.store,
		Logger:           s.logger,
	})
	if err := s.console.Restore(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if s.store != nil {
		s.store.Close()
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}
