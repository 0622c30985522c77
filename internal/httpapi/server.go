// Package httpapi serves the inventory REST API: agent push and task routes
// under /api/v1 plus the operator routes under /api/v1/admin.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fleetsync/inventory/internal/health"
	"github.com/fleetsync/inventory/internal/inventory"
	"github.com/fleetsync/inventory/internal/logging"
)

var log = logging.L("httpapi")

const apiPrefix = "/api/v1"

// Options configures the router.
type Options struct {
	// AdminToken enables the admin routes. Empty leaves them unmounted.
	AdminToken string
	// MaxBodyBytes caps request bodies. Zero means 16 MiB.
	MaxBodyBytes int64
}

type Server struct {
	store   *inventory.Store
	health  *health.Monitor
	opts    Options
	router  *mux.Router
	version string
}

func New(store *inventory.Store, monitor *health.Monitor, version string, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 20
	}
	if monitor == nil {
		monitor = health.NewMonitor()
	}
	s := &Server{
		store:   store,
		health:  monitor,
		opts:    opts,
		router:  mux.NewRouter(),
		version: version,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(withLogging)
	s.router.Use(withRecovery)
	s.router.Use(limitBody(s.opts.MaxBodyBytes))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no such route")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed")
	})

	api := s.router.PathPrefix(apiPrefix).Subrouter()
	api.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)

	api.HandleFunc("/os/{uuid}", s.handleOSInfo).Methods(http.MethodPost)
	api.HandleFunc("/hardware/{uuid}", s.handleHardware).Methods(http.MethodPost)
	api.HandleFunc("/profiles/{uuid}", s.handleProfiles).Methods(http.MethodPost)
	api.HandleFunc("/software/{uuid}", s.handleSoftware).Methods(http.MethodPost)
	api.HandleFunc("/licenses/{uuid}", s.handleLicenses).Methods(http.MethodPost)
	api.HandleFunc("/status/{uuid}/volumes", s.handleVolumes).Methods(http.MethodPost)
	api.HandleFunc("/status/{uuid}/battery", s.handleBattery).Methods(http.MethodPost)

	api.HandleFunc("/tasks/{uuid}", s.handleFetchTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{uuid}", s.handleReportTask).Methods(http.MethodPost)

	if s.opts.AdminToken == "" {
		log.Info("admin routes disabled, no admin token configured")
		return
	}

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireBearer(s.opts.AdminToken))
	admin.HandleFunc("/endpoints", s.handleListEndpoints).Methods(http.MethodGet)
	admin.HandleFunc("/endpoints/{uuid}", s.handleEndpointDetail).Methods(http.MethodGet)
	admin.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	admin.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	admin.HandleFunc("/identities", s.handleListIdentities).Methods(http.MethodGet)
	admin.HandleFunc("/identities/{sid}/endpoints", s.handleIdentityEndpoints).Methods(http.MethodGet)
	admin.HandleFunc("/identity-cache/clear", s.handleClearIdentityCache).Methods(http.MethodPost)
	admin.HandleFunc("/software", s.handleSoftwareCatalog).Methods(http.MethodGet)
	admin.HandleFunc("/volumes/critical", s.handleCriticalVolumes).Methods(http.MethodGet)
}
