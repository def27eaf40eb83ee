package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raysh454/proctor/internal/api"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/model"
)

// IPSource reports the client's current public address.
type IPSource interface {
	CurrentIP(ctx context.Context) (string, error)
}

// WhoAmI asks the proctoring server which address it sees.
type WhoAmI struct {
	Transport interfaces.Transport
}

func (w WhoAmI) CurrentIP(ctx context.Context) (string, error) {
	resp, err := w.Transport.Get(ctx, api.PathWhoAmI)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("whoami: status %d", resp.StatusCode)
	}
	var body api.WhoAmIResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	if strings.TrimSpace(body.IP) == "" {
		return "", errors.New("whoami: empty address")
	}
	return body.IP, nil
}

// IPWatcher compares the current address against the one seen at the start
// of the attempt and reports each new address once.
type IPWatcher struct {
	cfg    Config
	source IPSource
	rep    Reporter
	logger logging.Logger

	mu       sync.Mutex
	baseline string
	reported map[string]bool
}

func NewIPWatcher(cfg Config, source IPSource, rep Reporter, logger logging.Logger) *IPWatcher {
	return &IPWatcher{
		cfg:      cfg.withDefaults(),
		source:   source,
		rep:      rep,
		logger:   logger.With(logging.Field{Key: "component", Value: "ipwatch"}),
		reported: make(map[string]bool),
	}
}

// Baseline returns the first address seen, or "" before the first check.
func (w *IPWatcher) Baseline() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.baseline
}

// Check looks up the address once. It returns true when a change was
// reported.
func (w *IPWatcher) Check(ctx context.Context) (bool, error) {
	ip, err := w.source.CurrentIP(ctx)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if w.baseline == "" {
		w.baseline = ip
		w.mu.Unlock()
		w.logger.Info("network address recorded", logging.Field{Key: "ip", Value: ip})
		return false, nil
	}
	prev := w.baseline
	if ip == prev || w.reported[ip] {
		w.mu.Unlock()
		return false, nil
	}
	w.reported[ip] = true
	w.mu.Unlock()

	w.logger.Warn("network address changed",
		logging.Field{Key: "previous", Value: prev},
		logging.Field{Key: "current", Value: ip})
	w.rep.Report(model.KindIPChanged, model.SeverityMajor, "IP address changed during exam",
		model.Evidence{Network: &model.NetworkEvidence{PreviousIP: prev, CurrentIP: ip}})
	return true, nil
}

// Run checks immediately and then every IPInterval until ctx is done.
// Lookup failures are logged and skipped.
func (w *IPWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.IPInterval)
	defer ticker.Stop()
	for {
		if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
			w.logger.Debug("address lookup failed", logging.Err(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
