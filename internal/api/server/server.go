package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type Server struct {
	srv *http.Server
}

// RegisterFunc mounts a handler's routes on the router.
type RegisterFunc func(r *mux.Router)

func New(
	ctx context.Context,
	address string,
	handlers ...RegisterFunc,
) (*Server, error) {
	r := mux.NewRouter()

	// Prometheus metrics (the OTel meter provider exports through the
	// default registry)
	r.Handle("/metrics", promhttp.Handler())

	// Liveliness and readiness probes
	r.HandleFunc("/healthz", healthZHandleFunc())
	r.HandleFunc("/readyz", readyZHandleFunc(ctx))

	for _, register := range handlers {
		register(r)
	}

	srv := &http.Server{
		Addr: address,
		// Use h2c, so we can serve HTTP/2 without TLS.
		Handler: h2c.NewHandler(
			r,
			&http2.Server{},
		),
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       1 * time.Minute,
		// Streaming connections outlive this; gorilla/websocket hijacks the
		// connection before the write timeout applies.
		WriteTimeout:   1 * time.Minute,
		MaxHeaderBytes: 16 * 1024, // 16KiB
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}

	return &Server{
		srv: srv,
	}, nil
}

func (s *Server) Serve(l net.Listener) error {
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

var (
	statusHealthy    = []byte(`{"status":"HEALTHY"}`)
	statusNotServing = []byte(`{"status":"NOT_SERVING"}`)
	statusServing    = []byte(`{"status":"SERVING"}`)
)

func readyZHandleFunc(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-Type", "application/json")
		if ctx.Err() != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write(statusNotServing)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(statusServing)
	}
}

func healthZHandleFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(statusHealthy)
	}
}
