package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Listener wires both transports onto one HTTP listener: a WebSocket
// upgrade at /ws for the signed-messaging transport, everything else
// through the plain HTTP transport (spec §4.5's "two transports over the
// request router's shared route table").
type Listener struct {
	Addr string
	Log  *logrus.Entry

	router *Router
	server *http.Server
}

// NewListener builds a Listener bound to addr (e.g. ":8080").
func NewListener(addr string, r *Router, log *logrus.Entry) *Listener {
	return &Listener{Addr: addr, Log: log, router: r}
}

func (l *Listener) Name() string { return "request-router" }

func (l *Listener) Start(ctx context.Context) error {
	top := mux.NewRouter()
	top.Handle("/ws", NewWSTransport(l.router, l.Log))
	top.PathPrefix("/").Handler(NewHTTPTransport(l.router))

	l.server = &http.Server{
		Addr:              l.Addr,
		Handler:           top,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil // server started cleanly, didn't fail fast (e.g. port in use)
	}
}

func (l *Listener) Stop(ctx context.Context) error {
	if l.server == nil {
		return nil
	}
	return l.server.Shutdown(ctx)
}
