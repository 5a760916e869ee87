// Package generator calls the external bulk content generation endpoint.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	logx "contentpilot/pkg/logx"
)

// ErrRejected marks a response with success=false.
var ErrRejected = errors.New("generation rejected")

// Request is the automated bulk generation contract.
type Request struct {
	Mode                   string   `json:"mode"`
	SelectedNiches         []string `json:"selectedNiches"`
	Tones                  []string `json:"tones"`
	Templates              []string `json:"templates"`
	Platforms              []string `json:"platforms"`
	UseExistingProducts    bool     `json:"useExistingProducts"`
	GenerateAffiliateLinks bool     `json:"generateAffiliateLinks"`
	UseSpartanFormat       bool     `json:"useSpartanFormat"`
	UseSmartStyle          bool     `json:"useSmartStyle"`
	AIModel                string   `json:"aiModel"`
	AffiliateID            *string  `json:"affiliateId"`
	WebhookURL             *string  `json:"webhookUrl"`
	UserID                 string   `json:"userId"`
	ScheduledJobID         int64    `json:"scheduledJobId"`
	ScheduledJobName       string   `json:"scheduledJobName"`
	SendToMakeWebhook      bool     `json:"sendToMakeWebhook"`
}

const ModeAutomated = "automated"

type Response struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	GeneratedCount int    `json:"generatedCount,omitempty"`
}

// Generator is what the job executor depends on.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

type Config struct {
	URL     string
	Token   string
	Timeout time.Duration

	// RatePerSec <= 0 disables limiting.
	RatePerSec float64
	Burst      int
}

// Client is the HTTP Generator.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("generator url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "generator")),
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(1, cfg.Burst))
	}
	return c, nil
}

// Generate posts req and returns the decoded response. A success=false
// response is returned as an error wrapping ErrRejected.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	if req.Mode == "" {
		req.Mode = ModeAutomated
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, errors.Wrap(err, "generator rate limit")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.Wrap(err, "encode generation request")
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, errors.Wrap(err, "build generation request")
	}
	hreq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		return Response{}, errors.Wrap(err, "generation request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, errors.Wrap(err, "read generation response")
	}
	c.log.Debug("generation response",
		logx.Int64("job_id", req.ScheduledJobID),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return Response{}, errors.Newf("generation endpoint returned %d", resp.StatusCode)
		}
		return Response{}, errors.Wrap(err, "decode generation response")
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = "generator reported failure"
			if resp.StatusCode >= 300 {
				msg = http.StatusText(resp.StatusCode)
			}
		}
		return out, errors.Wrap(ErrRejected, msg)
	}
	return out, nil
}
