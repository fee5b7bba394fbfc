// Package driver decompiles batches of methods. Methods run one after the
// other; cancellation is observed between methods, never inside one.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/ildecomp/internal/decompiler"
	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/store"
)

// Cache is the result cache consulted by a run. *store.Store implements it.
type Cache interface {
	WriteRun(ctx context.Context, run store.Run) error
	FinishRun(ctx context.Context, id string, methods, failures, cached int) error
	LookupResult(ctx context.Context, methodHash, optionsKey string) (store.Result, bool, error)
	RecordMethod(ctx context.Context, runID string, seq int64, r store.Result, fromCache bool) error
}

var _ Cache = (*store.Store)(nil)

// Driver runs decompilations with one set of options.
type Driver struct {
	opts  decompiler.Options
	cache Cache
	ids   RunIDGenerator
	log   *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithCache enables the result cache.
func WithCache(c Cache) Option {
	return func(d *Driver) { d.cache = c }
}

// WithRunIDGenerator replaces the UUIDv7 run id source.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(d *Driver) { d.ids = g }
}

// WithLogger sets the logger for run progress. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// New creates a Driver.
func New(opts decompiler.Options, options ...Option) *Driver {
	d := &Driver{opts: opts, ids: UUIDv7Generator{}, log: slog.Default()}
	for _, o := range options {
		o(d)
	}
	return d
}

// Method is the outcome for one method of a run.
type Method struct {
	Method *il.MethodDef
	Hash   string

	// Body is the rendered body, or the failure placeholder.
	Body string

	// ErrorCode is set when the method failed to decode.
	ErrorCode il.DecodingErrorCode
	// Err is the decoding error. It is nil for a cached failure, whose
	// code and message survive only in Body and ErrorCode.
	Err error

	FromCache bool

	// Result is the live decompilation; nil when served from the cache.
	Result *decompiler.Result
}

// Failed reports whether the method failed to decode.
func (m *Method) Failed() bool { return m.ErrorCode != "" }

// Render returns the method with its signature.
func (m *Method) Render() string {
	return decompiler.RenderMethod(m.Method, m.Body)
}

// Report is the outcome of a run.
type Report struct {
	RunID    string
	Methods  []*Method
	Failures int
	Cached   int
}

// OptionsKey returns the cache key half derived from the options that shape
// rendered output.
func (d *Driver) OptionsKey() (string, error) {
	return store.OptionsKey(d.optionsMap())
}

func (d *Driver) optionsMap() map[string]any {
	until := ""
	if d.opts.Until != 0 {
		until = d.opts.Until.String()
	}
	return map[string]any{
		"until": until,
		"yield": !d.opts.NoYield,
	}
}

// Run decompiles methods in order. When ctx is cancelled it stops before
// the next method and returns the partial report together with ctx's error.
// A method that fails to decode is reported, never returned as an error.
func (d *Driver) Run(ctx context.Context, methods []*il.MethodDef) (*Report, error) {
	rep := &Report{RunID: d.ids.Generate()}
	key, err := d.OptionsKey()
	if err != nil {
		return nil, err
	}
	// Observers need to see the pipeline run, so a cache hit would hide it.
	cache := d.cache
	if d.opts.Observe != nil {
		cache = nil
	}
	if cache != nil {
		if err := cache.WriteRun(ctx, store.Run{ID: rep.RunID, Options: d.optionsMap()}); err != nil {
			return nil, err
		}
	}

	d.log.Info("run starting", "run", rep.RunID, "methods", len(methods))
	for i, m := range methods {
		if err := ctx.Err(); err != nil {
			d.log.Info("run stopping: context cancelled", "run", rep.RunID, "done", i)
			return rep, err
		}
		out, err := d.method(ctx, cache, key, m)
		if err != nil {
			return rep, err
		}
		if cache != nil && out.Hash != "" {
			if err := cache.RecordMethod(ctx, rep.RunID, int64(i+1), d.record(rep.RunID, key, out), out.FromCache); err != nil {
				return rep, err
			}
		}
		rep.Methods = append(rep.Methods, out)
		if out.Failed() {
			rep.Failures++
		}
		if out.FromCache {
			rep.Cached++
		}
	}

	if cache != nil {
		if err := cache.FinishRun(ctx, rep.RunID, len(rep.Methods), rep.Failures, rep.Cached); err != nil {
			return rep, err
		}
	}
	d.log.Info("run finished", "run", rep.RunID, "methods", len(rep.Methods), "failures", rep.Failures, "cached", rep.Cached)
	return rep, nil
}

func (d *Driver) method(ctx context.Context, cache Cache, key string, m *il.MethodDef) (*Method, error) {
	out := &Method{Method: m}
	if m.Body != nil {
		hash, err := il.MethodHash(m)
		if err != nil {
			return nil, err
		}
		out.Hash = hash
	}

	if cache != nil && out.Hash != "" {
		cached, found, err := cache.LookupResult(ctx, out.Hash, key)
		if err != nil {
			return nil, err
		}
		if found {
			d.log.Debug("cache hit", "method", m.FullName(), "hash", out.Hash)
			out.Body = cached.Body
			out.ErrorCode = il.DecodingErrorCode(cached.ErrorCode)
			out.FromCache = true
			return out, nil
		}
	}

	res, err := decompiler.DecompileMethod(ctx, m, d.opts)
	if err != nil {
		return nil, err
	}
	out.Result = res
	out.Body = res.Body()
	out.Err = res.Err
	if res.Err != nil {
		out.ErrorCode = il.DecodingErrorCodeOf(res.Err)
		if out.ErrorCode == "" {
			out.ErrorCode = il.ErrCodePassFailed
		}
		d.log.Warn("method failed to decode", "method", m.FullName(), "error", res.Err)
	}
	return out, nil
}

func (d *Driver) record(runID, key string, m *Method) store.Result {
	r := store.Result{
		MethodHash: m.Hash,
		OptionsKey: key,
		Method:     m.Method.FullName(),
		Body:       m.Body,
		ErrorCode:  string(m.ErrorCode),
		RunID:      runID,
	}
	var de *il.DecodingError
	if errors.As(m.Err, &de) {
		r.ErrorMessage = de.Message
	} else if m.Err != nil {
		r.ErrorMessage = m.Err.Error()
	}
	return r
}

// Errors collects the decoding errors of a report, for callers that want a
// single error value.
func (r *Report) Errors() error {
	var errs []error
	for _, m := range r.Methods {
		switch {
		case m.Err != nil:
			errs = append(errs, m.Err)
		case m.Failed():
			errs = append(errs, fmt.Errorf("%s: %s (cached)", m.Method.FullName(), m.ErrorCode))
		}
	}
	return errors.Join(errs...)
}
