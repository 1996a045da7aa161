// Package discord posts notifications to one static Discord webhook.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"flowwatch/internal/notify"
	logx "flowwatch/pkg/logx"
)

type Config struct {
	WebhookURL string
	Username   string
	// RatePerSec and Burst pace webhook calls; Discord allows about 5 per 2s.
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

type executor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Adapter struct {
	id, token string
	username  string
	exec      executor
	limiter   *rate.Limiter
	log       logx.Logger
}

var _ notify.Channel = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	id, token, err := parseWebhookURL(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s.Client = &http.Client{Timeout: timeout}
	return newAdapter(id, token, cfg, s, log), nil
}

func newAdapter(id, token string, cfg Config, exec executor, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	perSec, burst := cfg.RatePerSec, cfg.Burst
	if perSec <= 0 {
		perSec = 2.5
	}
	if burst <= 0 {
		burst = 5
	}
	name := cfg.Username
	if name == "" {
		name = "flowwatch"
	}
	return &Adapter{
		id:       id,
		token:    token,
		username: name,
		exec:     exec,
		limiter:  rate.NewLimiter(rate.Limit(perSec), burst),
		log:      log.Named("discord"),
	}
}

// parseWebhookURL extracts the id and token of
// https://discord.com/api/webhooks/<id>/<token>.
func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid discord webhook url")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("discord webhook url must look like https://discord.com/api/webhooks/<id>/<token>")
}

func (a *Adapter) Kind() notify.Kind { return notify.KindDiscord }

// SetRate changes the webhook pacing at runtime.
func (a *Adapter) SetRate(perSec float64, burst int) {
	if perSec > 0 {
		a.limiter.SetLimit(rate.Limit(perSec))
	}
	if burst > 0 {
		a.limiter.SetBurst(burst)
	}
}

func (a *Adapter) Send(ctx context.Context, msg notify.Message) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	params := &discordgo.WebhookParams{
		Username: a.username,
		Embeds:   []*discordgo.MessageEmbed{buildEmbed(msg)},
	}
	if _, err := a.exec.WebhookExecute(a.id, a.token, true, params, discordgo.WithContext(ctx)); err != nil {
		a.log.Warn("discord webhook failed", logx.String("project_id", msg.ProjectID), logx.String("event", msg.EventName), logx.Err(err))
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
