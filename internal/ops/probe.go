package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khegiw/llamactl/internal/prompt"
	"github.com/khegiw/llamactl/pkg/llamaserver"
)

type probeResult struct {
	name string
	took time.Duration
	err  error
}

// Test probes the deployed stack end to end: backend health, the
// authenticated proxy route when one is configured, and a small chat
// completion. Failures are collected so one dead leg does not hide the
// others; any failure makes the whole run fail.
func (o *Ops) Test(ctx context.Context) error {
	var results []probeResult
	probe := func(name string, f func() error) {
		start := time.Now()
		err := f()
		results = append(results, probeResult{name: name, took: time.Since(start), err: err})
	}

	backend := llamaserver.New(o.Cfg.BaseURL(), llamaserver.WithTimeout(o.ProbeTimeout))
	probe("backend /health", func() error {
		h, err := backend.Health(ctx)
		if err != nil {
			return err
		}
		if h.Status != "ok" {
			return fmt.Errorf("server reports %q", h.Status)
		}
		return nil
	})

	if !o.Cfg.DisableProxy {
		if user, pass, err := o.proxyCredentials(); err != nil {
			fmt.Fprintf(o.Out, "skipping proxy probe: %v\n", err)
		} else {
			proxy := llamaserver.New(o.Cfg.ProxyURL(),
				llamaserver.WithTimeout(o.ProbeTimeout),
				llamaserver.WithBasicAuth(user, pass),
				llamaserver.WithInsecureTLS())
			probe("proxy /health", func() error {
				h, err := proxy.Health(ctx)
				if err != nil {
					return err
				}
				if h.Status != "ok" {
					return fmt.Errorf("server reports %q", h.Status)
				}
				return nil
			})
		}
	}

	probe("chat completion", func() error {
		resp, err := backend.ChatCompletion(ctx, llamaserver.ChatRequest{
			Messages: []llamaserver.Message{
				{Role: "user", Content: "Reply with the single word ready."},
			},
			MaxTokens:   16,
			Temperature: 0,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return errors.New("empty completion")
		}
		return nil
	})

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(o.Out, "FAIL  %-20s %v\n", r.name, r.err)
			continue
		}
		fmt.Fprintf(o.Out, "ok    %-20s %s\n", r.name, r.took.Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d probes failed", failed, len(results))
	}
	fmt.Fprintf(o.Out, "all %d probes passed\n", len(results))
	return nil
}

// proxyCredentials picks the first configured user and asks for their
// password. Non-interactive runs skip the authenticated probe instead of
// failing it.
func (o *Ops) proxyCredentials() (string, string, error) {
	if len(o.Cfg.Users) == 0 {
		return "", "", errors.New("no api_users configured")
	}
	user := o.Cfg.Users[0]
	pass, err := o.Prompt.Password(fmt.Sprintf("password for %q to probe the proxy", user))
	if errors.Is(err, prompt.ErrNeedsTerminal) {
		return "", "", errors.New("no terminal for credentials")
	}
	if err != nil {
		return "", "", err
	}
	return user, pass, nil
}
