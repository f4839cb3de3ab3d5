package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"partyhost/content"
	"partyhost/middleware"

	"github.com/gin-gonic/gin"
)

// DeckStore is the persistent side of the content catalog.
type DeckStore interface {
	Decks(ctx context.Context) (map[string][]json.RawMessage, error)
	ReplaceDeck(ctx context.Context, game string, items []json.RawMessage) error
}

// DeckValidator checks that items can build the named game.
type DeckValidator func(game string, items []json.RawMessage) error

type DeckHandler struct {
	catalog  *content.Catalog
	store    DeckStore
	validate DeckValidator
	logger   *slog.Logger
}

// NewDeckHandler serves the catalog loaded at startup. store may be nil when
// no content database is configured.
func NewDeckHandler(catalog *content.Catalog, store DeckStore, validate DeckValidator, logger *slog.Logger) *DeckHandler {
	return &DeckHandler{
		catalog:  catalog,
		store:    store,
		validate: validate,
		logger:   logger,
	}
}

type ReplaceDeckRequest struct {
	Items []json.RawMessage `json:"items" binding:"required"`
}

func (h *DeckHandler) ListDecks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"decks": h.catalog.Sizes()})
}

// ReplaceDeck stores a new deck for a game. Running games keep the deck they
// were built with; the stored deck is picked up on the next start.
func (h *DeckHandler) ReplaceDeck(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Content database is not configured"})
		return
	}

	game := strings.ToUpper(strings.TrimSpace(c.Param("game")))
	if game == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Game required"})
		return
	}

	var req ReplaceDeckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.validate(game, req.Items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.store.ReplaceDeck(c.Request.Context(), game, req.Items)
	if errors.Is(err, content.ErrEmptyDeck) || errors.Is(err, content.ErrInvalidItem) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("replace deck", "game", game, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store deck"})
		return
	}

	h.logger.Info("deck replaced", "game", game, "items", len(req.Items), "by", c.GetString(middleware.PlayerIDKey))
	c.JSON(http.StatusOK, gin.H{"game": game, "items": len(req.Items)})
}
