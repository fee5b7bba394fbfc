package optimize

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/analyzer"
	"github.com/roach88/ildecomp/internal/assembler"
	"github.com/roach88/ildecomp/internal/il"
)

func newTestTree() *il.Tree {
	return il.NewTree(&il.MethodDef{Name: "M", DeclaringType: &il.TypeDef{Name: "T"}})
}

func newTestOptimizer(t *il.Tree) *optimizer {
	return &optimizer{t: t, log: slog.New(slog.DiscardHandler)}
}

func local(name string, typ *il.TypeDef) *il.Variable {
	return &il.Variable{Name: name, Type: typ, OriginalLocal: &il.LocalDef{Name: name, Type: typ}}
}

func temp(name string) *il.Variable {
	return &il.Variable{Name: name, IsGenerated: true}
}

func basicBlock(t *il.Tree, stmts ...il.NodeID) il.NodeID {
	return t.Add(il.Node{Kind: il.KindBasicBlock, Stmts: stmts})
}

// decompile runs the analyzer, the assembler and the pipeline with label
// checks enabled.
func decompile(t *testing.T, m *il.MethodDef, opts Options) *il.Tree {
	t.Helper()
	r, err := analyzer.Analyze(m)
	require.NoError(t, err)
	tree, err := assembler.Build(r)
	require.NoError(t, err)
	opts.CheckLabels = true
	require.NoError(t, Optimize(tree, opts))
	return tree
}

// countKind counts nodes of kind k in the method.
func countKind(tree *il.Tree, k il.Kind) int {
	n := 0
	for _, id := range tree.Descendants(tree.Root) {
		if tree.Kind(id) == k {
			n++
		}
	}
	return n
}

// countCode counts expressions with the given code in the method.
func countCode(tree *il.Tree, c il.Code) int {
	n := 0
	for _, id := range tree.Exprs(tree.Root) {
		if tree.Code(id) == c {
			n++
		}
	}
	return n
}
