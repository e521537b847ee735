package server

import (
	"log"

	"dailypair/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) requireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return models.RespondWithError(c, fiber.StatusUpgradeRequired,
			models.NewValidationError("WebSocket upgrade required"))
	}
	return c.Next()
}

// NoticeSocketHandler streams asynchronous notices to the chat host.
// The optional "session" query parameter limits delivery to one chat session.
func (s *Server) NoticeSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		subscriber, _ := conn.Locals("subject").(string)
		if subscriber == "" {
			subscriber = "anonymous"
		}

		client, err := s.hub.Register(subscriber, conn.Query("session"), conn)
		if err != nil {
			log.Printf("WebSocket notices: failed to register %s: %v", subscriber, err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}
