// Package api implements the read-only query HTTP API: tree root, sibling
// paths, nullifier status and the stored announcement log. All state is
// written by the chain scanner; the API only reads.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.vocdoni.io/dvote/log"

	stg "github.com/veilpay/veilpay/storage"
	"github.com/veilpay/veilpay/tree"
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host    string
	Port    int
	Storage *stg.Storage
	Tree    *tree.Tree
}

// API type represents the API HTTP server.
type API struct {
	router  *chi.Mux
	storage *stg.Storage
	tree    *tree.Tree
}

// New creates a new API instance with the given configuration and starts
// the HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("missing storage instance")
	}
	if conf.Tree == nil {
		return nil, fmt.Errorf("missing tree instance")
	}
	a := &API{
		storage: conf.Storage,
		tree:    conf.Tree,
	}

	a.initRouter()
	go func() {
		log.Infow("Starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", StatusEndpoint, "method", "GET")
	a.router.Get(StatusEndpoint, a.status)
	log.Infow("register handler", "endpoint", RootEndpoint, "method", "GET")
	a.router.Get(RootEndpoint, a.root)
	log.Infow("register handler", "endpoint", PathEndpoint, "method", "GET")
	a.router.Get(PathEndpoint, a.siblingPath)
	log.Infow("register handler", "endpoint", NullifierEndpoint, "method", "GET")
	a.router.Get(NullifierEndpoint, a.nullifierStatus)
	log.Infow("register handler", "endpoint", AnnouncementsEndpoint, "method", "GET")
	a.router.Get(AnnouncementsEndpoint, a.announcements)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	// Register the API handlers
	a.registerHandlers()
}
