package safeguard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	logx "contentpilot/pkg/logx"
)

// Remote asks an external policy endpoint. Any transport or decode failure
// is a denial.
type Remote struct {
	url    string
	client *http.Client
	log    logx.Logger
}

type remoteRequest struct {
	Origin string `json:"origin"`
	JobID  int64  `json:"jobId,omitempty"`
}

type remoteResponse struct {
	Allowed *bool  `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func NewRemote(url string, timeout time.Duration, log logx.Logger) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Remote{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
		log:    log.With(logx.String("comp", "safeguard.remote")),
	}
}

func (r *Remote) Evaluate(ctx context.Context, req Request) Verdict {
	v, err := r.check(ctx, req)
	if err != nil {
		r.log.Warn("safeguard check failed; denying", logx.String("origin", string(req.Origin)), logx.Err(err))
		return Deny("safeguard unavailable: " + err.Error())
	}
	return v
}

func (r *Remote) check(ctx context.Context, req Request) (Verdict, error) {
	body, err := json.Marshal(remoteRequest{Origin: string(req.Origin), JobID: req.JobID})
	if err != nil {
		return Verdict{}, errors.Wrap(err, "encode request")
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, errors.Wrap(err, "build request")
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(hreq)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "post")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Verdict{}, errors.Newf("unexpected status %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Verdict{}, errors.Wrap(err, "decode response")
	}
	if out.Allowed == nil {
		return Verdict{}, errors.New("response missing allowed")
	}
	if !*out.Allowed {
		reason := strings.TrimSpace(out.Reason)
		if reason == "" {
			reason = "blocked by safeguard"
		}
		return Deny(reason), nil
	}
	return Allow(), nil
}
