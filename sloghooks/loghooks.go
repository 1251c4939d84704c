// Package sloghooks logs entcache hook events with log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/entcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	RemoteEvery   uint64
	HydratedEvery uint64
	// Optional id redactor. Defaults to a SHA-256 prefix; set it to an
	// identity func to log ids verbatim.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	remoteCtr   atomic.Uint64
	hydratedCtr atomic.Uint64
}

var _ entcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(id string) string {
	if id == "" {
		return ""
	}
	if h.opts.Redact != nil {
		return h.opts.Redact(id)
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hydrated(entity, id string, count int) {
	if h.l == nil || !sample(h.opts.HydratedEvery, &h.hydratedCtr) {
		return
	}
	h.l.Debug("entcache.hydrated",
		"entity", entity,
		"id", h.redact(id),
		"count", count)
}

func (h *Hooks) HydrateFailed(entity, id string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("entcache.hydrate_failed",
		"entity", entity,
		"id", h.redact(id),
		"err", err)
}

func (h *Hooks) PersistFailed(entity, id string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("entcache.persist_failed",
		"entity", entity,
		"id", h.redact(id),
		"err", err)
}

func (h *Hooks) PublishFailed(entity, id string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("entcache.publish_failed",
		"entity", entity,
		"id", h.redact(id),
		"err", err)
}

func (h *Hooks) RemoteApplied(entity, kind, id string) {
	if h.l == nil || !sample(h.opts.RemoteEvery, &h.remoteCtr) {
		return
	}
	h.l.Debug("entcache.remote_applied",
		"entity", entity,
		"kind", kind,
		"id", h.redact(id))
}

func (h *Hooks) RemoteRejected(entity string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("entcache.remote_rejected",
		"entity", entity,
		"err", err)
}
