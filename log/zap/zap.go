// Package zap adapts go.uber.org/zap to entcache.Logger.
package zap

import (
	"sort"

	"github.com/unkn0wn-root/entcache"
	"go.uber.org/zap"
)

var _ entcache.Logger = Logger{}

// Logger forwards to L. Error-valued fields are logged with
// zap.NamedError so encoders render them as errors, not structs.
type Logger struct{ L *zap.Logger }

// New names l "entcache". A nil l yields a no-op logger.
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l.Named("entcache")}
}

func (z Logger) Debug(msg string, f entcache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f entcache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f entcache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f entcache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f entcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
