package server

import (
	"strings"

	"dailypair/internal/bot"
	"dailypair/internal/models"

	"github.com/gofiber/fiber/v2"
)

// HandleEvent runs one inbound group message.
// It answers 200 with the reply, or 204 when the message was not a command.
func (s *Server) HandleEvent(c *fiber.Ctx) error {
	var ev bot.Event
	if err := c.BodyParser(&ev); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	ev.GroupID = strings.TrimSpace(ev.GroupID)
	ev.UserID = strings.TrimSpace(ev.UserID)
	if ev.GroupID == "" || ev.UserID == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("group_id and user_id are required"))
	}

	reply := s.events.Handle(c.UserContext(), ev)
	if reply == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(reply)
}
