// Package server exposes the HTTP endpoints: inbound activities and the
// proactive notification trigger.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/victor-kironde/vk-reminder-bot/internal/bot"
	"github.com/victor-kironde/vk-reminder-bot/internal/scheduler"
)

// Activity is the inbound turn payload posted to /api/messages.
type Activity struct {
	Type         string           `json:"type"` // "message" or "conversationUpdate"
	Text         string           `json:"text"`
	ChannelID    string           `json:"channelId"` // platform name, e.g. "emulator"
	From         ChannelAccount   `json:"from"`
	Recipient    ChannelAccount   `json:"recipient"`
	Conversation ConversationInfo `json:"conversation"`
	MembersAdded []ChannelAccount `json:"membersAdded"`
}

// ChannelAccount identifies a user or bot on the channel.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ConversationInfo identifies the conversation an activity belongs to.
type ConversationInfo struct {
	ID string `json:"id"`
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Bot        *bot.Bot
	Scheduler  *scheduler.Scheduler
	Port       int
	AuthSecret string // optional; when set, /api/messages requires it as a bearer token
	Out        io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 3978
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Bot == nil {
		return nil, fmt.Errorf("server: bot is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("server: scheduler is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/api/messages", handleMessages(opts.Bot, opts.AuthSecret))
	router.GET("/api/notify", handleNotify(opts.Scheduler))
	return router, nil
}

// handleMessages deserializes one inbound activity and dispatches it to the
// bot's turn handlers.
func handleMessages(b *bot.Bot, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.ContentType(), "application/json") {
			c.Status(http.StatusUnsupportedMediaType)
			return
		}
		if secret != "" && c.GetHeader("Authorization") != "Bearer "+secret {
			c.Status(http.StatusUnauthorized)
			return
		}

		var activity Activity
		if err := c.ShouldBindJSON(&activity); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		switch activity.Type {
		case "message":
			b.OnMessage(c.Request.Context(), inboundFromActivity(activity, activity.From))
		case "conversationUpdate":
			// Greet each added member except the bot itself.
			for _, member := range activity.MembersAdded {
				if member.ID == activity.Recipient.ID {
					continue
				}
				b.OnConversationUpdate(c.Request.Context(), inboundFromActivity(activity, member))
			}
		}
		c.Status(http.StatusCreated)
	}
}

// handleNotify runs one delivery sweep across all registered conversations.
func handleNotify(s *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := s.Sweep(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.String(http.StatusCreated, "Proactive messages have been sent")
	}
}

// inboundFromActivity converts an Activity to the bot's inbound message form.
func inboundFromActivity(a Activity, who ChannelAccount) bot.InboundMessage {
	return bot.InboundMessage{
		Platform:       a.ChannelID,
		ConversationID: a.Conversation.ID,
		UserID:         who.ID,
		UserName:       who.Name,
		Text:           a.Text,
	}
}
