// Package telegramclient wraps the MTProto client: connection and auth
// lifecycle, update dispatch into listener events, and rate-limited
// outbound sends with FloodWait handling.
package telegramclient

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
)

// floodWaitCap bounds how long a single FloodWait is honored before the
// operation is abandoned instead of parked.
const floodWaitCap = time.Hour

// Client is the process-wide MTProto connection. It is not safe for
// concurrent API calls from multiple goroutines; callers funnel through
// the rate limiter which serializes contended paths.
type Client struct {
	env        *config.Env
	tg         *telegram.Client
	api        *tg.Client
	sender     *message.Sender
	dispatcher tg.UpdateDispatcher
	limiter    *Limiter

	convMu sync.Mutex
	convs  map[int64]chan string
}

// New builds the client around a file-backed session for the profile.
func New(env *config.Env, sessionPath string) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(sessionPath), 0o700); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}

	var dispatcher = tg.NewUpdateDispatcher()
	var c = &Client{
		env:        env,
		dispatcher: dispatcher,
		limiter:    NewLimiter(),
		convs:      make(map[int64]chan string),
	}
	c.tg = telegram.NewClient(env.APIID, env.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
		UpdateHandler:  dispatcher,
	})
	return c, nil
}

// Run connects, ensures authorization and then hands control to f. The
// connection lives exactly as long as f.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return c.tg.Run(ctx, func(ctx context.Context) error {
		var status, err = c.tg.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("not authorized; run the auth command first")
		}

		c.api = c.tg.API()
		c.sender = message.NewSender(c.api)

		var self, errSelf = c.tg.Self(ctx)
		if errSelf != nil {
			return fmt.Errorf("fetch self: %w", errSelf)
		}
		log.WithFields(log.Fields{"user_id": self.ID, "username": self.Username}).Info("telegram connected")
		return f(ctx)
	})
}

// Authorize runs the interactive code flow and stores the session. Used
// by the one-off auth command.
func (c *Client) Authorize(ctx context.Context) error {
	return c.tg.Run(ctx, func(ctx context.Context) error {
		var flow = auth.NewFlow(
			auth.Constant(c.env.Phone, "", auth.CodeAuthenticatorFunc(promptCode)),
			auth.SendCodeOptions{},
		)
		if err := c.tg.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("authorization: %w", err)
		}
		var self, err = c.tg.Self(ctx)
		if err != nil {
			return fmt.Errorf("fetch self: %w", err)
		}
		log.WithFields(log.Fields{"user_id": self.ID, "username": self.Username}).Info("authorized, session saved")
		return nil
	})
}

func promptCode(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Print("Enter the login code: ")
	var reader = bufio.NewReader(os.Stdin)
	var code, err = reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

// API exposes the raw client for the update mapping layer.
func (c *Client) API() *tg.Client { return c.api }
