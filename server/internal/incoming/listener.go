// SPDX-License-Identifier: AGPL-3.0-only

// Package incoming implements the incoming connection support.
package incoming

import (
	"fmt"
	"net"
	"net/url"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/chipshifter/licks/core/worker"
	"github.com/chipshifter/licks/quic/common"
	"github.com/chipshifter/licks/server/internal/glue"
	"github.com/chipshifter/licks/server/internal/instrument"
	"github.com/chipshifter/licks/server/internal/service"
)

// Services bundles the request handlers shared by all listeners.
type Services struct {
	Registrar   *service.Registrar
	Usernames   *service.Usernames
	KeyPackages *service.KeyPackages
	Chat        *service.Chat
}

// NewServices constructs the handler bundle.
func NewServices(g glue.Glue) *Services {
	return &Services{
		Registrar:   service.NewRegistrar(g),
		Usernames:   service.NewUsernames(g),
		KeyPackages: service.NewKeyPackages(g),
		Chat:        service.NewChat(g),
	}
}

// Listener is one transport accept loop.
type Listener struct {
	worker.Worker

	glue glue.Glue
	svc  *Services
	log  *logging.Logger

	l net.Listener

	closeAllCh chan interface{}
	closeAllWg sync.WaitGroup
}

// New creates a new Listener bound to the given transport URL and
// starts its accept loop.
func New(g glue.Glue, svc *Services, id int, u *url.URL) (*Listener, error) {
	l := &Listener{
		glue:       g,
		svc:        svc,
		log:        g.LogBackend().GetLogger(fmt.Sprintf("listener:%d", id)),
		closeAllCh: make(chan interface{}),
	}

	var err error
	l.l, err = common.Listen(u)
	if err != nil {
		return nil, err
	}

	l.Go(l.worker)
	return l, nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

// Halt stops the accept loop and tears down all connections accepted
// through this listener.
func (l *Listener) Halt() {
	_ = l.l.Close()
	close(l.closeAllCh)
	l.Worker.Halt()
}

func (l *Listener) worker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		_ = l.l.Close()
		l.closeAllWg.Wait()
	}()

	for {
		conn, err := l.l.Accept()
		if err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				continue
			}
			return
		}
		l.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())
		l.onNewConn(conn)
	}
}

func (l *Listener) onNewConn(conn net.Conn) {
	instrument.IncomingConn()
	c := newIncomingConn(l, conn)
	l.closeAllWg.Add(1)
	go func() {
		defer l.closeAllWg.Done()
		c.worker()
	}()
}
