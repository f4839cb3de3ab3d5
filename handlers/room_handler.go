package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"partyhost/games"
	"partyhost/models"
	"partyhost/services"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	store    services.RoomStore
	registry *games.Registry
	hub      *services.Hub
	logger   *slog.Logger
}

func NewRoomHandler(store services.RoomStore, registry *games.Registry, hub *services.Hub, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{
		store:    store,
		registry: registry,
		hub:      hub,
		logger:   logger,
	}
}

// RoomSummary is the public face of a room. Game state never leaves the
// server through REST.
type RoomSummary struct {
	ID       string              `json:"id"`
	GameKind string              `json:"gameKind"`
	Phase    string              `json:"phase"`
	HostID   string              `json:"hostId,omitempty"`
	Players  []models.PlayerView `json:"players"`
	Version  int64               `json:"version"`
}

func (h *RoomHandler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.hub.Count()})
}

func (h *RoomHandler) ListGames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"games": h.registry.Kinds()})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id := models.NormalizeRoomID(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room ID required"})
		return
	}

	room, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, services.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		h.logger.Error("load room", "room_id", id, "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Room store unavailable"})
		return
	}

	summary := RoomSummary{
		ID:       room.ID,
		GameKind: room.GameKind,
		Phase:    room.Phase,
		Players:  room.PlayerViews(),
		Version:  room.Version,
	}
	if host := room.Host(); host != nil {
		summary.HostID = host.ID
	}
	c.JSON(http.StatusOK, summary)
}
