package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

func TestParseExprShapes(t *testing.T) {
	e, err := ParseExpr("x > 100")
	require.NoError(t, err)
	bin, ok := e.(*ExprBinary)
	require.True(t, ok)
	assert.Equal(t, ir.BinGt, bin.Op)
	assert.Equal(t, &ExprIdent{Name: "x"}, bin.L)
	assert.Equal(t, &ExprLit{Val: ir.Int(100)}, bin.R)

	e, err = ParseExpr("a && b || !c")
	require.NoError(t, err)
	// || binds loosest.
	or, ok := e.(*ExprBinary)
	require.True(t, ok)
	assert.Equal(t, ir.BinOr, or.Op)
	and := or.L.(*ExprBinary)
	assert.Equal(t, ir.BinAnd, and.Op)
	assert.IsType(t, &ExprUnary{}, or.R)

	e, err = ParseExpr(`name == "alice"`)
	require.NoError(t, err)
	assert.Equal(t, ir.BinEq, e.(*ExprBinary).Op)

	_, err = ParseExpr("(x >= -5) && true")
	require.NoError(t, err)
}

func TestParseExprErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"x >",
		"x ? y",
		`"unterminated`,
		"(x > 1",
		"1 2",
		"x > 100 extra",
	} {
		_, err := ParseExpr(src)
		assert.Error(t, err, "src=%q", src)
	}
}

func TestCheckExpr(t *testing.T) {
	vars := map[string]graph.ValueKind{
		"x":    graph.KindNumber,
		"ok":   graph.KindBoolean,
		"name": graph.KindString,
	}

	for _, tc := range []struct {
		src  string
		kind graph.ValueKind
	}{
		{"x > 100", graph.KindBoolean},
		{"x == 0 || ok", graph.KindBoolean},
		{`name != "bob"`, graph.KindBoolean},
		{"!ok && x <= 7", graph.KindBoolean},
		{"true", graph.KindBoolean},
		{"x", graph.KindNumber},
	} {
		e, err := ParseExpr(tc.src)
		require.NoError(t, err, tc.src)
		kind, err := CheckExpr(e, vars)
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.kind, kind, tc.src)
	}

	for _, src := range []string{
		"missing > 1",    // unknown variable
		"x && ok",        // && needs booleans
		"ok < true",      // ordered compare on booleans
		`name > "a"`,     // ordered compare on strings
		`x == "ten"`,     // mixed kinds
		"!x",             // ! needs a boolean
	} {
		e, err := ParseExpr(src)
		require.NoError(t, err, src)
		_, err = CheckExpr(e, vars)
		assert.Error(t, err, src)
	}
}

func TestEvalExpr(t *testing.T) {
	vars := map[string]ir.Value{
		"x":    ir.Int(150),
		"ok":   ir.Bool(false),
		"name": ir.Str("alice"),
	}

	for _, tc := range []struct {
		src  string
		want ir.Value
	}{
		{"x > 100", ir.Bool(true)},
		{"x < 100", ir.Bool(false)},
		{"x >= 150 && !ok", ir.Bool(true)},
		{"ok || x == 150", ir.Bool(true)},
		{`name == "alice"`, ir.Bool(true)},
		{`name != "alice"`, ir.Bool(false)},
		{"x != 150", ir.Bool(false)},
	} {
		e, err := ParseExpr(tc.src)
		require.NoError(t, err, tc.src)
		got, err := EvalExpr(e, vars)
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.want, got, tc.src)
	}
}

func TestEvalExprShortCircuit(t *testing.T) {
	// The right side references a missing variable; short-circuit means it
	// is never evaluated.
	vars := map[string]ir.Value{"ok": ir.Bool(false)}

	e, err := ParseExpr("ok && missing")
	require.NoError(t, err)
	got, err := EvalExpr(e, vars)
	require.NoError(t, err)
	assert.Equal(t, ir.Bool(false), got)

	e, err = ParseExpr("!ok || missing")
	require.NoError(t, err)
	got, err = EvalExpr(e, vars)
	require.NoError(t, err)
	assert.Equal(t, ir.Bool(true), got)
}
