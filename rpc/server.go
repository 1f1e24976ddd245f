package rpc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/colorfulnotion/commitchain/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves one node over HTTP:
//
//	/         JSON-RPC over HTTP (commitchain_*)
//	/rpc/ws   JSON-RPC over websocket, with commitchain_subscribe
//	/ws       event feed of StructuredLog envelopes
//	/metrics  Prometheus
type Server struct {
	rpc  *gethrpc.Server
	hub  *Hub
	mux  *http.ServeMux
	http *http.Server
}

func NewServer(ctx context.Context, b *Backend, gatherer prometheus.Gatherer) (*Server, error) {
	srv := gethrpc.NewServer()
	if err := srv.RegisterName(Namespace, NewAPI(b)); err != nil {
		return nil, err
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{rpc: srv, hub: NewHub(ctx, b.Chain), mux: http.NewServeMux()}
	go s.hub.Run()
	s.mux.Handle("/", srv)
	s.mux.Handle("/rpc/ws", srv.WebsocketHandler([]string{"*"}))
	s.mux.HandleFunc("/ws", s.hub.ServeWS)
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info(debugWeb, "rpc server started", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctxShutdown)
	s.Close()
	return err
}

// Close stops the event feed and the RPC server.
func (s *Server) Close() {
	s.hub.Close()
	s.rpc.Stop()
}
