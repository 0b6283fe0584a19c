package server

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/sidecar/internal/lifecycle"
	"github.com/loykin/sidecar/internal/metrics"
)

// Controller is the part of lifecycle.Controller the admin endpoint drives.
type Controller interface {
	Status() lifecycle.Status
	Usage() (metrics.Usage, bool)
	Teardown(t lifecycle.Trigger) bool
}

// Router provides embeddable admin handlers for the supervised worker.
// Endpoints:
//
//	GET  {basePath}/status                  query: usage=1 adds a resource sample
//	GET  {basePath}/metrics                 prometheus exposition
//	POST {basePath}/events/window-destroyed inject a window-destroyed event
//	POST {basePath}/events/exit             inject an application-exit event
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     Controller
	basePath string
	metrics  http.Handler
	token    string
}

// NewRouter constructs a Router. A nil metrics handler serves the default
// prometheus registry.
func NewRouter(ctrl Controller, basePath string, metricsHandler http.Handler) *Router {
	if metricsHandler == nil {
		metricsHandler = metrics.Handler()
	}
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath), metrics: metricsHandler}
}

// WithToken requires "Authorization: Bearer <token>" on every route. An
// empty token leaves the router open.
func (r *Router) WithToken(token string) *Router {
	r.token = token
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.token != "" {
		group.Use(bearerAuth(r.token))
	}
	group.GET("/status", r.handleStatus)
	group.GET("/metrics", gin.WrapH(r.metrics))
	group.POST("/events/window-destroyed", r.handleEvent(lifecycle.TriggerWindowDestroyed))
	group.POST("/events/exit", r.handleEvent(lifecycle.TriggerExit))
	return g
}

// NewServer starts a standalone HTTP server on addr serving h, over TLS when
// tlsCfg is non-nil. Shut it down with Close or Shutdown on the returned
// server.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if tlsCfg != nil {
			_ = server.ListenAndServeTLS("", "")
			return
		}
		_ = server.ListenAndServe()
	}()
	return server, nil
}

type statusResp struct {
	lifecycle.Status
	Usage *metrics.Usage `json:"usage,omitempty"`
}

type eventResp struct {
	Trigger string `json:"trigger"`
	Reaped  bool   `json:"reaped"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Status: r.ctrl.Status()}
	if wantUsage(c.Query("usage")) {
		if u, ok := r.ctrl.Usage(); ok {
			metrics.SetTreeRSS(u.RSSBytes)
			resp.Usage = &u
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleEvent(t lifecycle.Trigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reaped := r.ctrl.Teardown(t)
		writeJSON(c, http.StatusOK, eventResp{Trigger: string(t), Reaped: reaped})
	}
}
