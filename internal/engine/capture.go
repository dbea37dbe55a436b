package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rcliao/memory-engine/internal/capture"
	"github.com/rcliao/memory-engine/internal/command"
	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/model"
	"github.com/rcliao/memory-engine/internal/render"
	"github.com/rcliao/memory-engine/internal/store"
)

// maxTrackedHashes bounds the processed-capture memory.
const maxTrackedHashes = 5000

// hashRing remembers the most recent hashes, evicting the oldest first.
type hashRing struct {
	mu    sync.Mutex
	max   int
	order []string
	set   map[string]struct{}
}

func newHashRing(max int) *hashRing {
	return &hashRing{max: max, set: make(map[string]struct{}, max)}
}

func (r *hashRing) Contains(h string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[h]
	return ok
}

func (r *hashRing) Add(h string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[h]; ok {
		return
	}
	r.set[h] = struct{}{}
	r.order = append(r.order, h)
	if len(r.order) > r.max {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *hashRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// CaptureData is the capture payload.
type CaptureData struct {
	Enabled    bool                     `json:"enabled"`
	Persisted  bool                     `json:"persisted"`
	Candidates []model.CaptureCandidate `json:"candidates"`
	Added      int                      `json:"added"`
	Deduped    int                      `json:"deduped"`
	Blocked    int                      `json:"blocked"`
}

// CaptureCandidates proposes memories from a transcript. With persist and
// auto-capture enabled, every candidate is added with origin "captured".
func (e *Engine) CaptureCandidates(ctx context.Context, transcript string, persist bool) *Response {
	const action = "capture_candidates"
	cfg := e.Config().AutoCapture

	opts := capture.OptionsFromConfig(cfg)
	opts.Seen = e.seen.Contains
	candidates := capture.Propose(transcript, opts)

	data := CaptureData{Enabled: cfg.Enabled, Candidates: candidates}
	if persist && cfg.Enabled {
		data.Persisted = true
		scope, err := e.resolveScope(cfg.Scope)
		if err != nil {
			return fail(action, err)
		}
		for i := range candidates {
			c := &candidates[i]
			sctx, cancel := e.storeCtx(ctx)
			res, err := e.store.Add(sctx, store.AddParams{
				Scope:    scope,
				Category: c.Category,
				Content:  c.Text,
				Origin:   model.OriginCaptured,
			})
			cancel()

			var ve *store.ValidationError
			switch {
			case errors.As(err, &ve):
				c.State = model.CaptureRejected
				data.Blocked++
				continue
			case err != nil:
				return fail(action, err)
			case res.Outcome == store.Deduped:
				data.Deduped++
			default:
				data.Added++
			}
			c.State = model.CaptureAccepted
			e.seen.Add(c.Hash)
		}
	}

	text := render.Candidates(candidates)
	if data.Persisted {
		text += fmt.Sprintf("\n\nAdded %d, deduped %d, blocked %d.", data.Added, data.Deduped, data.Blocked)
	} else if persist {
		text += "\n\nAuto-capture is off; nothing was stored."
	}
	return ok(action, data, text)
}

// Auto reports or changes the auto-capture toggle. Changes are persisted
// to config.json.
func (e *Engine) Auto(ctx context.Context, mode string) *Response {
	const action = "auto"
	switch mode {
	case "", command.AutoStatus:
		cfg := e.Config()
		return ok(action, map[string]any{"enabled": cfg.AutoCapture.Enabled, "auto_capture": cfg.AutoCapture}, render.AutoStatus(cfg.AutoCapture))
	case command.AutoOn, command.AutoOff:
	default:
		return fail(action, invalid("mode", "must be on, off or status (got %q)", mode))
	}

	enabled := mode == command.AutoOn
	cfg, err := e.updateConfig(func(c *config.Config) { c.AutoCapture.Enabled = enabled })
	if err != nil {
		return fail(action, err)
	}
	return ok(action, map[string]any{"enabled": enabled, "auto_capture": cfg.AutoCapture}, "Auto-capture "+mode+".")
}

func (e *Engine) updateConfig(mutate func(*config.Config)) (config.Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.cfg
	mutate(&next)
	if err := next.Validate(); err != nil {
		return e.cfg, invalid("config", "%v", err)
	}
	if err := e.configs.Save(next); err != nil {
		return e.cfg, err
	}
	e.cfg = next
	return next, nil
}
