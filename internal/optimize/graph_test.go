package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/il"
)

// diamond builds
//
//	L0: if (c) goto L2; goto L1
//	L1: goto L3
//	L2: goto L3
//	L3: return
func diamond(tree *il.Tree) ([]il.NodeID, []il.NodeID) {
	c := local("c", il.Bool)
	l := []il.NodeID{tree.NewLabel("L"), tree.NewLabel("L"), tree.NewLabel("L"), tree.NewLabel("L")}
	bbs := []il.NodeID{
		basicBlock(tree, l[0], tree.Brtrue(l[2], tree.Ldloc(c)), tree.Br(l[1])),
		basicBlock(tree, l[1], tree.Br(l[3])),
		basicBlock(tree, l[2], tree.Br(l[3])),
		basicBlock(tree, l[3], tree.Expr(il.Ret)),
	}
	return bbs, l
}

func TestDominanceDiamond(t *testing.T) {
	tree := newTestTree()
	bbs, labels := diamond(tree)
	g, err := buildGraph(tree, bbs, labels[0])
	require.NoError(t, err)
	g.computeDominance()
	g.computeDominanceFrontier()

	n := g.blockNodes()
	require.Len(t, n, 4)
	assert.Equal(t, g.entry(), n[0].idom)
	assert.Equal(t, n[0], n[1].idom)
	assert.Equal(t, n[0], n[2].idom)
	assert.Equal(t, n[0], n[3].idom, "the join is dominated by the branch, not either arm")
	assert.True(t, n[0].dominates(n[3]))
	assert.False(t, n[1].dominates(n[3]))

	assert.True(t, n[1].frontier[n[3]])
	assert.True(t, n[2].frontier[n[3]])
	assert.Empty(t, n[0].frontier)
	assert.True(t, hasSingleEdgeEnteringBlock(n[1]))
	assert.False(t, hasSingleEdgeEnteringBlock(n[3]))
}

func TestSelfEdgeOnlyToLeadingLabel(t *testing.T) {
	tree := newTestTree()
	c := local("c", il.Bool)
	head, exit := tree.NewLabel("L"), tree.NewLabel("L")
	bbs := []il.NodeID{
		basicBlock(tree, head, tree.Brtrue(head, tree.Ldloc(c)), tree.Br(exit)),
		basicBlock(tree, exit, tree.Expr(il.Ret)),
	}
	g, err := buildGraph(tree, bbs, head)
	require.NoError(t, err)
	n := g.blockNodes()
	assert.Contains(t, n[0].outgoing, n[0])

	tree2 := newTestTree()
	loop, inner := tree2.NewLabel("L"), tree2.NewLabel("L")
	bbs2 := []il.NodeID{
		basicBlock(tree2, loop, tree2.Expr(il.Nop), inner, tree2.Brtrue(inner, tree2.Ldloc(c)), tree2.Expr(il.Ret)),
	}
	g2, err := buildGraph(tree2, bbs2, loop)
	require.NoError(t, err)
	assert.Empty(t, g2.blockNodes()[0].outgoing)
}

func TestLoopContentAndFrontier(t *testing.T) {
	tree := newTestTree()
	c := local("c", il.Bool)
	entry, head, body, exit := tree.NewLabel("L"), tree.NewLabel("L"), tree.NewLabel("L"), tree.NewLabel("L")
	bbs := []il.NodeID{
		basicBlock(tree, entry, tree.Br(head)),
		basicBlock(tree, head, tree.Brtrue(body, tree.Ldloc(c)), tree.Br(exit)),
		basicBlock(tree, body, tree.Br(head)),
		basicBlock(tree, exit, tree.Expr(il.Ret)),
	}
	g, err := buildGraph(tree, bbs, entry)
	require.NoError(t, err)
	g.computeDominance()
	g.computeDominanceFrontier()
	n := g.blockNodes()

	assert.True(t, n[1].frontier[n[1]], "a loop header is in its own frontier")
	content := findLoopContent(newNodeSet(n...), n[1])
	assert.ElementsMatch(t, []*cfNode{n[1], n[2]}, content.sorted())
	assert.ElementsMatch(t, []*cfNode{n[3]}, findDominatedNodes(newNodeSet(n...), n[3]).sorted())
}

func TestBuildGraphRejectsMissingEntry(t *testing.T) {
	tree := newTestTree()
	bbs, _ := diamond(tree)
	_, err := buildGraph(tree, bbs, tree.NewLabel("Missing"))
	require.Error(t, err)
	assert.Equal(t, il.ErrCodePassFailed, il.DecodingErrorCodeOf(err))
}
