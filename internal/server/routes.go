package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/jgriss/fusionsolar2mqtt/internal/core/domain"
	"github.com/jgriss/fusionsolar2mqtt/internal/core/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type refreshResponse struct {
	Status   string            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Readings []refreshedMetric `json:"readings,omitempty"`
}

type refreshedMetric struct {
	Id        string     `json:"id"`
	Name      string     `json:"name"`
	PlantId   string     `json:"plant_id,omitempty"`
	Value     *float64   `json:"value"`
	LastReset *time.Time `json:"last_reset,omitempty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.POST("/refresh", s.RefreshHandler)
	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	} else if ok && response.State != "" {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL ("+response.State+")")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// RefreshHandler runs a poll cycle right away and returns its readings.
func (s *Server) RefreshHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.PollRequest{}, s.refreshTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, refreshResponse{Status: domain.POLL_STATUS_ERROR, Error: err.Error()})
	}
	response, ok := res.(domain.PollResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, refreshResponse{Status: domain.POLL_STATUS_ERROR})
	}
	if err := response.GetResponseError(); err != nil {
		if errors.Is(err, service.ErrAuthRequired) {
			return c.JSON(http.StatusUnauthorized, refreshResponse{Status: domain.POLL_STATUS_AUTH_REQUIRED, Error: err.Error()})
		}
		return c.JSON(http.StatusBadGateway, refreshResponse{Status: domain.POLL_STATUS_ERROR, Error: err.Error()})
	}

	body := refreshResponse{Status: domain.POLL_STATUS_OK}
	for _, r := range response.Readings {
		body.Readings = append(body.Readings, refreshedMetric{
			Id:        r.UniqueId,
			Name:      r.Description.Name,
			PlantId:   r.PlantId,
			Value:     r.Value,
			LastReset: r.LastReset,
		})
	}
	return c.JSON(http.StatusOK, body)
}
