package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DuplicateNode(t *testing.T) {
	_, err := New("wf", "A", []*Node{
		{Name: "A", Kind: KindEdge},
		{Name: "A", Kind: KindEdge},
	})
	assert.ErrorContains(t, err, "duplicate node name")
}

func TestNew_MissingStart(t *testing.T) {
	_, err := New("wf", "Missing", []*Node{{Name: "A", Kind: KindEdge}})
	assert.ErrorContains(t, err, "start node")
}

func TestNodes_DeclarationOrder(t *testing.T) {
	topo, err := New("wf", "B", []*Node{
		{Name: "B", Kind: KindEdge},
		{Name: "A", Kind: KindTerminate},
	})
	require.NoError(t, err)

	nodes := topo.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "B", nodes[0].Name)
	assert.Equal(t, "A", nodes[1].Name)
}

func TestDeriveTransitions(t *testing.T) {
	in, out := DeriveTransitions("Approve")
	assert.Equal(t, "T_in_Approve", in)
	assert.Equal(t, "T_out_Approve", out)
}

func TestNodeNameFromService(t *testing.T) {
	name, err := NodeNameFromService("Approve_Place")
	require.NoError(t, err)
	assert.Equal(t, "Approve", name)

	_, err = NodeNameFromService("Approve")
	assert.Error(t, err)

	_, err = NodeNameFromService("_Place")
	assert.Error(t, err, "empty node name is a configuration error")
}

func TestParseNodeKind_RoundTrip(t *testing.T) {
	kinds := []NodeKind{
		KindDecision, KindXOR, KindGateway, KindFork, KindJoin,
		KindEdge, KindMerge, KindTerminate, KindFeedForward, KindExpired,
	}
	for _, k := range kinds {
		parsed, err := ParseNodeKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseNodeKind("loop")
	assert.Error(t, err)
}

func TestParseGuardOp(t *testing.T) {
	g, err := ParseGuardOp("NOT_EQUAL")
	require.NoError(t, err)
	assert.Equal(t, GuardNotEqual, g)

	g, err = ParseGuardOp("")
	require.NoError(t, err)
	assert.Equal(t, GuardNone, g)

	_, err = ParseGuardOp("EQ")
	assert.Error(t, err)
}

func TestParseCompareOp(t *testing.T) {
	for _, s := range []string{"==", "!=", ">", "<", ">=", "<="} {
		op, err := ParseCompareOp(s)
		require.NoError(t, err)
		assert.Equal(t, s, op.String())
	}
}
