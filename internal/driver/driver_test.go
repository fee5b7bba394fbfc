package driver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/decompiler"
	"github.com/roach88/ildecomp/internal/il"
	"github.com/roach88/ildecomp/internal/optimize"
	"github.com/roach88/ildecomp/internal/store"
	"github.com/roach88/ildecomp/internal/testutil"
)

const batchSrc = `
type: T: method: A: {
	static: true
	body: """
		call void Sink::A()
		ret
		"""
}
type: T: method: Broken: {
	static: true
	body: """
		pop
		ret
		"""
}
type: T: method: B: {
	static: true
	params: ["int32 x"]
	returns: "int32"
	body: """
		ldarg x
		ldc.i4 1
		add
		ret
		"""
}
`

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quiet() Option {
	return WithLogger(slog.New(slog.DiscardHandler))
}

func TestRunReportsEveryMethod(t *testing.T) {
	a := testutil.Assembly(t, batchSrc)
	d := New(decompiler.Options{}, WithRunIDGenerator(NewFixedGenerator("run-1")), quiet())

	rep, err := d.Run(context.Background(), a.Methods())
	require.NoError(t, err)
	assert.Equal(t, "run-1", rep.RunID)
	require.Len(t, rep.Methods, 3)
	assert.Equal(t, 1, rep.Failures)
	assert.Zero(t, rep.Cached)

	assert.Contains(t, rep.Methods[0].Body, "Sink.A();")
	assert.Equal(t, il.ErrCodeStackUnderflow, rep.Methods[1].ErrorCode)
	assert.Contains(t, rep.Methods[1].Body, "/* decoding failed: STACK_UNDERFLOW: ")
	assert.Contains(t, rep.Methods[2].Render(), "static int B(int x) {\n\treturn x + 1;\n}\n")

	err = rep.Errors()
	require.Error(t, err)
	assert.True(t, il.IsDecodingError(err))
}

func TestRunUsesCache(t *testing.T) {
	a := testutil.Assembly(t, batchSrc)
	s := openStore(t)
	ctx := context.Background()
	gen := NewFixedGenerator("run-1", "run-2")

	first, err := New(decompiler.Options{}, WithCache(s), WithRunIDGenerator(gen), quiet()).Run(ctx, a.Methods())
	require.NoError(t, err)
	assert.Zero(t, first.Cached)

	second, err := New(decompiler.Options{}, WithCache(s), WithRunIDGenerator(gen), quiet()).Run(ctx, a.Methods())
	require.NoError(t, err)
	assert.Equal(t, 3, second.Cached)
	assert.Equal(t, 1, second.Failures, "cached failures stay failures")
	for i, m := range second.Methods {
		assert.True(t, m.FromCache)
		assert.Nil(t, m.Result)
		assert.Equal(t, first.Methods[i].Body, m.Body)
		assert.Equal(t, first.Methods[i].ErrorCode, m.ErrorCode)
	}

	run, err := s.ReadRun(ctx, "run-2")
	require.NoError(t, err)
	assert.True(t, run.Finished)
	assert.Equal(t, 3, run.Methods)
	assert.Equal(t, 3, run.Cached)
	assert.Equal(t, map[string]any{"until": "", "yield": true}, run.Options)

	replay, err := s.ReplayRun(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, replay, 3)
	assert.Equal(t, "T::Broken", replay[1].Result.Method)
	assert.Equal(t, "run-1", replay[1].Result.RunID)
}

func TestCacheKeyIncludesOptions(t *testing.T) {
	a := testutil.Assembly(t, batchSrc)
	s := openStore(t)
	ctx := context.Background()

	_, err := New(decompiler.Options{}, WithCache(s), WithRunIDGenerator(NewFixedGenerator("run-1")), quiet()).Run(ctx, a.Methods())
	require.NoError(t, err)

	opts := decompiler.Options{Until: optimize.StepInlineVariables}
	rep, err := New(opts, WithCache(s), WithRunIDGenerator(NewFixedGenerator("run-2")), quiet()).Run(ctx, a.Methods())
	require.NoError(t, err)
	assert.Zero(t, rep.Cached)

	key, err := New(opts).OptionsKey()
	require.NoError(t, err)
	assert.Equal(t, `{"until":"inline-variables","yield":true}`, key)
}

func TestRenamedLocalMissesCache(t *testing.T) {
	const src = `
type: T: method: Twice: {
	static: true
	params: ["int32 x"]
	returns: "int32"
	locals: ["int32 %s"]
	body: """
		ldarg x
		ldc.i4 2
		mul
		stloc %s
		ldloc %s
		call void Sink::Use(int32)
		ldloc %s
		ret
		"""
}
`
	s := openStore(t)
	ctx := context.Background()
	gen := NewFixedGenerator("run-1", "run-2")

	before := testutil.Assembly(t, fmt.Sprintf(src, "total", "total", "total", "total"))
	_, err := New(decompiler.Options{}, WithCache(s), WithRunIDGenerator(gen), quiet()).Run(ctx, before.Methods())
	require.NoError(t, err)

	after := testutil.Assembly(t, fmt.Sprintf(src, "sum", "sum", "sum", "sum"))
	rep, err := New(decompiler.Options{}, WithCache(s), WithRunIDGenerator(gen), quiet()).Run(ctx, after.Methods())
	require.NoError(t, err)
	assert.Zero(t, rep.Cached)
	require.Len(t, rep.Methods, 1)
	assert.Contains(t, rep.Methods[0].Body, "return sum;")
}

func TestObserverBypassesCache(t *testing.T) {
	a := testutil.Assembly(t, batchSrc)
	s := openStore(t)
	ctx := context.Background()

	_, err := New(decompiler.Options{}, WithCache(s), WithRunIDGenerator(NewFixedGenerator("run-1")), quiet()).Run(ctx, a.Methods())
	require.NoError(t, err)

	steps := 0
	opts := decompiler.Options{Observe: func(optimize.Step, *il.Tree) { steps++ }}
	rep, err := New(opts, WithCache(s), WithRunIDGenerator(NewFixedGenerator("run-2")), quiet()).Run(ctx, a.Methods()[:1])
	require.NoError(t, err)
	assert.Zero(t, rep.Cached)
	assert.Equal(t, len(optimize.Steps()), steps)

	_, err = s.ReadRun(ctx, "run-2")
	assert.Error(t, err, "observed runs are not recorded")
}

func TestCancellationBetweenMethods(t *testing.T) {
	a := testutil.Assembly(t, batchSrc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel once the first method has been fully decompiled.
	opts := decompiler.Options{Observe: func(s optimize.Step, _ *il.Tree) {
		if s == optimize.StepTypeInference2 {
			cancel()
		}
	}}
	rep, err := New(opts, WithRunIDGenerator(NewFixedGenerator("run-1")), quiet()).Run(ctx, a.Methods())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	require.Len(t, rep.Methods, 1, "the method in flight completes")
	assert.Contains(t, rep.Methods[0].Body, "Sink.A();")
}

func TestRunLogs(t *testing.T) {
	a := testutil.Assembly(t, batchSrc)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := New(decompiler.Options{}, WithRunIDGenerator(NewFixedGenerator("run-1")), WithLogger(logger)).Run(context.Background(), a.Methods())
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "run starting")
	assert.Contains(t, out, "method failed to decode")
	assert.Contains(t, out, "run finished")
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.Equal(t, byte('7'), a[14], "version nibble")
	assert.NotEqual(t, a, b)
}
