// Package main serves generated group rosters over the chat gateway's HTTP
// actions so the bot can be run locally without a chat account.
package main

import (
	"encoding/json"
	"flag"
	"hash/fnv"
	"log"
	"sync"

	"dailypair/internal/models"
	"dailypair/internal/seed"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type memberRequest struct {
	GroupID json.Number `json:"group_id"`
	UserID  json.Number `json:"user_id"`
}

type gateway struct {
	size int

	mu      sync.Mutex
	rosters map[string][]models.Member
}

// roster returns the same generated members for a group on every call.
func (g *gateway) roster(groupID string) []models.Member {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rosters[groupID]; ok {
		return r
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(groupID))
	r := seed.NewRosterFactory(int64(h.Sum64() >> 1)).Roster(g.size)
	g.rosters[groupID] = r
	return r
}

func newApp(size int) *fiber.App {
	g := &gateway{size: size, rosters: make(map[string][]models.Member)}

	app := fiber.New(fiber.Config{AppName: "fakegateway"})
	app.Use(recover.New())

	app.Post("/get_group_member_list", func(c *fiber.Ctx) error {
		var req memberRequest
		if err := c.BodyParser(&req); err != nil || req.GroupID == "" {
			return c.JSON(fiber.Map{"status": "failed", "message": "group_id is required"})
		}
		return c.JSON(fiber.Map{"status": "ok", "data": g.roster(req.GroupID.String())})
	})

	app.Post("/get_group_member_info", func(c *fiber.Ctx) error {
		var req memberRequest
		if err := c.BodyParser(&req); err != nil || req.GroupID == "" || req.UserID == "" {
			return c.JSON(fiber.Map{"status": "failed", "message": "group_id and user_id are required"})
		}
		for _, m := range g.roster(req.GroupID.String()) {
			if m.UserID == req.UserID.String() {
				return c.JSON(fiber.Map{"status": "ok", "data": m})
			}
		}
		return c.JSON(fiber.Map{"status": "failed", "message": "user not found", "wording": "member does not exist"})
	})

	return app
}

func main() {
	addr := flag.String("addr", "127.0.0.1:3000", "Listen address")
	size := flag.Int("size", 12, "Members per generated group")
	flag.Parse()

	log.Printf("Fake gateway serving %d members per group on %s", *size, *addr)
	log.Fatal(newApp(*size).Listen(*addr))
}
