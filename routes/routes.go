package routes

import (
	"log/slog"
	"net/http"

	"partyhost/handlers"
	"partyhost/middleware"
	"partyhost/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func SetupRoutes(
	router *gin.Engine,
	roomHandler *handlers.RoomHandler,
	deckHandler *handlers.DeckHandler,
	hub *services.Hub,
	jwtSecret string,
	logger *slog.Logger,
) {
	api := router.Group("/api")
	{
		api.GET("/games", roomHandler.ListGames)
		api.GET("/rooms/:id", roomHandler.GetRoom)
		api.GET("/decks", deckHandler.ListDecks)

		admin := api.Group("/")
		admin.Use(middleware.AuthMiddleware(jwtSecret), middleware.AdminMiddleware())
		{
			admin.PUT("/decks/:game", deckHandler.ReplaceDeck)
		}
	}

	// Everything after the upgrade, including which room the connection
	// enters, happens over the socket protocol.
	router.GET("/ws", middleware.OptionalAuth(jwtSecret), func(c *gin.Context) {
		session := services.NewSession(c.GetString(middleware.PlayerIDKey))
		if hint := c.Query("playerId"); hint != "" {
			session.Suggest(hint)
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "err", err)
			return
		}

		logger.Debug("websocket connected", "conn_id", session.ConnID, "verified", session.Verified())
		hub.RegisterClient(conn, session)
	})

	router.GET("/health", roomHandler.Health)
}
