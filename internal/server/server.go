package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port           uint
	httpLog        bool
	refreshTimeout time.Duration
	rootContext    *actor.RootContext
	masterActor    *actor.PID
	metricsHandler http.Handler
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, metricsHandler http.Handler) *http.Server {
	NewServer := &Server{
		port:           cfg.Port,
		rootContext:    rootContext,
		masterActor:    masterActor,
		httpLog:        cfg.HttpLog,
		metricsHandler: metricsHandler,
		// a refresh may have to open a new session before fetching
		refreshTimeout: 2*cfg.MonitorConfig.FetchTimeout() + 5*time.Second,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: NewServer.refreshTimeout + 10*time.Second,
	}

	return server
}
