// SPDX-License-Identifier: AGPL-3.0-only

// Package server provides the licks messaging server.
package server

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/chipshifter/licks/core/log"
	"github.com/chipshifter/licks/server/config"
	"github.com/chipshifter/licks/server/internal/incoming"
	"github.com/chipshifter/licks/server/internal/instrument"
	"github.com/chipshifter/licks/server/mailbox"
	"github.com/chipshifter/licks/server/mailbox/boltmailbox"
	"github.com/chipshifter/licks/server/subscribe"
	"github.com/chipshifter/licks/server/userdb"
	"github.com/chipshifter/licks/server/userdb/boltuserdb"
)

const (
	mailboxDBFile = "mailboxes.db"
	userDBFile    = "users.db"
)

// Server is a licks server instance.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	mailboxes mailbox.Store
	users     userdb.UserDB
	registry  *subscribe.Registry
	listeners []*incoming.Listener

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// LogBackend returns the log backend.
func (s *Server) LogBackend() *log.Backend {
	return s.logBackend
}

// Mailboxes returns the mailbox store.
func (s *Server) Mailboxes() mailbox.Store {
	return s.mailboxes
}

// Listeners returns the push listener registry.
func (s *Server) Listeners() *subscribe.Registry {
	return s.registry
}

// UserDB returns the account database.
func (s *Server) UserDB() userdb.UserDB {
	return s.users
}

// ListenerAddrs returns the addresses the server is listening on.
func (s *Server) ListenerAddrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0o700
	d := s.cfg.DataDir

	if fi, err := os.Lstat(d); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("server: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("server: failed to create DataDir: %v", err)
		}
	} else if !fi.IsDir() {
		return fmt.Errorf("server: DataDir '%v' is not a directory", d)
	}
	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.DataDir, p)
		}
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		fatalErrCh: make(chan error),
		haltedCh:   make(chan interface{}),
	}

	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}
	s.log.Notice("Starting up")

	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	var err error
	s.users, err = boltuserdb.New(filepath.Join(s.cfg.DataDir, userDBFile))
	if err != nil {
		return nil, err
	}
	s.mailboxes, err = boltmailbox.New(filepath.Join(s.cfg.DataDir, mailboxDBFile), s.logBackend)
	if err != nil {
		return nil, err
	}
	s.registry = subscribe.New(s.logBackend)

	instrument.Init(s.cfg.MetricsAddress)

	// Spin up the connection listeners.
	svc := incoming.NewServices(s)
	for i, v := range s.cfg.Addresses {
		u, err := url.Parse(v)
		if err != nil {
			return nil, err
		}
		l, err := incoming.New(s, svc, i, u)
		if err != nil {
			s.log.Errorf("Failed to start listener '%v': %v", v, err)
			return nil, err
		}
		s.listeners = append(s.listeners, l)
	}

	// Start the fatal error watcher.
	go func() {
		err, ok := <-s.fatalErrCh
		if !ok {
			return
		}
		s.log.Warningf("Shutting down due to error: %v", err)
		s.Shutdown()
	}()

	isOk = true
	return s, nil
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// RotateLog rotates the log file if logging to a file is enabled.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.fatalErrCh <- fmt.Errorf("failed to rotate log file, shutting down server")
	}
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown")

	for _, l := range s.listeners {
		l.Halt()
	}
	s.listeners = nil

	if s.mailboxes != nil {
		_ = s.mailboxes.Close()
		s.mailboxes = nil
	}
	if s.users != nil {
		s.users.Close()
		s.users = nil
	}

	close(s.fatalErrCh)
	s.log.Notice("Shutdown complete")
	close(s.haltedCh)
}
