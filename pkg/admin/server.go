// Package admin serves health, status and metrics of a link over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/znp.go/pkg/apps/stress"
	"github.com/robotalks/znp.go/pkg/observability"
	"github.com/robotalks/znp.go/pkg/znp/device"
	"github.com/robotalks/znp.go/pkg/znp/host"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
)

// Status is the body of GET /status.
type Status struct {
	State       string        `json:"state"`
	Description string        `json:"description"`
	Running     bool          `json:"running"`
	Mailbox     int           `json:"mailbox"`
	Events      int           `json:"events"`
	Stats       rpc.Stats     `json:"stats"`
	Nodes       []device.Node `json:"nodes"`
}

// Server exposes one link.
type Server struct {
	Session    *device.Session
	Dispatcher *rpc.Dispatcher
	// Done is closed when the link stopped, nil if always running.
	Done <-chan struct{}
	// Stress reports the stress test, nil if not running.
	Stress   func() []stress.NodeStats
	Gatherer prometheus.Gatherer
}

// New creates a Server for a link and registers the metrics.
func New(l *host.Link) *Server {
	observability.RegisterMetrics()
	return &Server{
		Session:    l.Session,
		Dispatcher: l.Dispatcher,
		Done:       l.Done(),
		Gatherer:   prometheus.DefaultGatherer,
	}
}

func (s *Server) running() bool {
	if s.Done == nil {
		return true
	}
	select {
	case <-s.Done:
		return false
	default:
		return true
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Get("/stress", s.stress)
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if !s.running() {
		http.Error(w, "link stopped", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	state := s.Session.State()
	st := Status{
		State:       state.String(),
		Description: state.Description(),
		Running:     s.running(),
		Nodes:       s.Session.Nodes(),
	}
	if d := s.Dispatcher; d != nil {
		st.Stats = d.Stats()
		st.Mailbox = d.Mailbox.Len()
		if d.Events != nil {
			st.Events = d.Events.Len()
		}
	}
	if st.Nodes == nil {
		st.Nodes = []device.Node{}
	}
	writeJSON(w, st)
}

func (s *Server) stress(w http.ResponseWriter, r *http.Request) {
	if s.Stress == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.Stress())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("admin: encode response: %v", err)
	}
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		glog.Infof("admin listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
