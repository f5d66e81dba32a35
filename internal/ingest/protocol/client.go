// Package protocol is the MTProto acquisition backend. It sees private
// channels the web scraper cannot, real channel ids, full entity
// formatting and live updates, at the price of API credentials and an
// authorized session.
package protocol

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

// Client owns the gotd connection lifecycle. The underlying client
// only works inside Run, so the connection is kept on a background
// goroutine and API calls wait for Ready.
type Client struct {
	tg       *telegram.Client
	botToken string

	startOnce sync.Once
	ready     chan struct{}
	runErr    chan error
}

func NewClient(apiID int, apiHash, sessionFile, botToken string, handler telegram.UpdateHandler) *Client {
	tgClient := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionFile},
		UpdateHandler:  handler,
	})
	return &Client{
		tg:       tgClient,
		botToken: botToken,
		ready:    make(chan struct{}),
		runErr:   make(chan error, 1),
	}
}

// Start brings the connection up in the background. Safe to call more
// than once; only the first call does anything. The connection lives
// until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go func() {
			err := c.tg.Run(ctx, func(runCtx context.Context) error {
				if err := c.authenticate(runCtx); err != nil {
					return err
				}
				log.Printf("protocol: telegram client authenticated and ready")
				close(c.ready)

				<-runCtx.Done()
				return runCtx.Err()
			})
			if err != nil {
				log.Printf("protocol: telegram client stopped: %v", err)
			}
			c.runErr <- err
			close(c.runErr)
		}()
	})
}

// Ready blocks until the client is connected and authenticated, the
// background runner dies, or ctx expires.
func (c *Client) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case err, ok := <-c.runErr:
		if !ok || err == nil {
			return fmt.Errorf("telegram client is not running")
		}
		return fmt.Errorf("telegram client failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// API exposes the raw MTProto surface. Valid only after Ready.
func (c *Client) API() *tg.Client {
	return c.tg.API()
}

// authenticate reuses the stored session when it is still authorized,
// falling back to bot-token auth when one is configured. A user
// session must be provisioned out of band; this service never runs an
// interactive login.
func (c *Client) authenticate(ctx context.Context) error {
	status, err := c.tg.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if c.botToken == "" {
		return fmt.Errorf("session is not authorized and TELEGRAM_BOT_TOKEN is not set")
	}

	for attempt := 1; attempt <= 5; attempt++ {
		_, err = c.tg.Auth().Bot(ctx, c.botToken)
		if err == nil {
			return nil
		}

		if wait, isFlood := telegram.AsFloodWait(err); isFlood {
			if wait > 60*time.Second {
				return fmt.Errorf("flood wait too long: %v", wait)
			}
			time.Sleep(wait)
			continue
		}

		backoff := time.Duration(attempt*attempt) * time.Second
		time.Sleep(backoff)
	}

	return fmt.Errorf("bot auth failed after retries: %w", err)
}
