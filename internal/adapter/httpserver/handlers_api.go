package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/activitypulse/internal/domain"
	apperrors "github.com/pscheid92/activitypulse/internal/platform/errors"
)

const maxEventBodyBytes = 64 << 10

type dispatchRequest struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

type roomResponse struct {
	Room        string `json:"room"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api")
	api.POST("/rooms/:room/events", s.handleDispatch, newRateLimiter(s.config.DispatchRateLimit, s.config.DispatchRateBurst))
	api.GET("/rooms/:room", s.handleRoom)
	api.GET("/stats", s.handleStats)
}

func (s *Server) handleDispatch(c echo.Context) error {
	room := c.Param("room")
	if err := domain.ValidateRoom(room); err != nil {
		return apperrors.ValidationError(err.Error()).WithContext("room", room)
	}

	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxEventBodyBytes)
	var req dispatchRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return apperrors.ValidationError("request body must be a JSON object")
	}
	if len(req.Event) == 0 || string(req.Event) == "null" {
		return apperrors.ValidationError("event is required").WithContext("room", room)
	}

	result, err := s.app.Dispatch(c.Request().Context(), domain.ActivityEvent{
		Type:  req.Type,
		Room:  room,
		Event: req.Event,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRoom) {
			return apperrors.ValidationError(err.Error()).WithContext("room", room)
		}
		return apperrors.InternalError("dispatch failed", err).WithContext("room", room)
	}

	if err := c.JSON(http.StatusAccepted, result); err != nil {
		return fmt.Errorf("failed to write dispatch response: %w", err)
	}
	return nil
}

func (s *Server) handleRoom(c echo.Context) error {
	room := c.Param("room")
	if err := domain.ValidateRoom(room); err != nil {
		return apperrors.ValidationError(err.Error()).WithContext("room", room)
	}

	response := roomResponse{Room: room, Subscribers: s.app.RoomSize(room)}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write room response: %w", err)
	}
	return nil
}

func (s *Server) handleStats(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.app.Stats()); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}
