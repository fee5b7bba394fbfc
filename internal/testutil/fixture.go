// Package testutil holds fixture helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ildecomp/internal/compiler"
	"github.com/roach88/ildecomp/internal/il"
)

// Assembly compiles CUE assembly source or fails the test.
func Assembly(t testing.TB, src string) *compiler.Assembly {
	t.Helper()
	a, err := compiler.CompileSource(src)
	require.NoError(t, err)
	return a
}

// Method compiles the fields of a single method T::M, given as the body of
// its CUE struct, and returns it.
func Method(t testing.TB, fields string) *il.MethodDef {
	t.Helper()
	a := Assembly(t, "type: T: method: M: {\n"+fields+"\n}\n")
	m := a.Method("T::M")
	require.NotNil(t, m)
	return m
}

// StaticMethod is Method with static set and the body given as IL text.
func StaticMethod(t testing.TB, signature, body string) *il.MethodDef {
	t.Helper()
	return Method(t, "static: true\n"+signature+"\nbody: \"\"\"\n"+body+"\n\"\"\"")
}
