// Package main subscribes to the notice socket and prints every notice, for
// checking a deployment by hand.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dailypair/internal/config"
	"dailypair/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

func main() {
	host := flag.String("host", "localhost:8390", "API server host")
	session := flag.String("session", "", "Only receive notices for this chat session")
	subject := flag.String("subject", "noticetail", "Token subject")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	q := url.Values{}
	if *session != "" {
		q.Set("session", *session)
	}
	if cfg.WebhookSecret != "" {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": *subject,
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(cfg.WebhookSecret))
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		q.Set("token", token)
	}
	u := url.URL{Scheme: "ws", Host: *host, Path: "/api/ws/notices", RawQuery: q.Encode()}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial %s failed: %v", u.Redacted(), err)
	}
	defer func() { _ = conn.Close() }()
	log.Printf("Connected to %s", u.Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Connection closed: %v", err)
				return
			}
			var notice models.Notice
			if err := json.Unmarshal(msg, &notice); err != nil {
				fmt.Println(string(msg))
				continue
			}
			fmt.Printf("%s [%s] group=%s user=%s session=%s: %s\n",
				notice.SentAt.Format(time.RFC3339), notice.Type, notice.GroupID, notice.UserID, notice.Session, notice.Text)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-done:
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
