package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rust-mcp/internal/symbol"
)

func demoSymbol() symbol.Normalized {
	id := symbol.Identity{
		CrateName:  "demo",
		ModulePath: []string{"utils"},
		ItemName:   "do_thing",
		Kind:       symbol.KindFreeFunction,
	}
	return symbol.FromIdentity(id, "", "")
}

func TestExtractsMIRByDefName(t *testing.T) {
	mir := `
fn demo::utils::do_thing(_1: i32) -> i32 {
    bb0: {
        _0 = _1;
        return;
    }
}

fn demo::utils::other(_1: i32) -> i32 {
    bb0: { return; }
}
`
	out, err := MIR([]string{mir}, demoSymbol())
	require.NoError(t, err)
	assert.Contains(t, out, "do_thing")
	assert.NotContains(t, out, "other(_1")
}

func TestExtractsLLVMIRWithMangledPrefix(t *testing.T) {
	llvm := `
; ModuleID = 'demo'
source_filename = "demo"

define dso_local void @_ZN4demo5utils8do_thing17h1234abcdE() #0 {
entry-block:
  ret void
}

define dso_local void @_ZN4demo5utils9do_other17h99999999E() #0 {
entry-block:
  ret void
}
`
	out, err := LLVMIR([]string{llvm}, demoSymbol())
	require.NoError(t, err)
	assert.Contains(t, out, "_ZN4demo5utils8do_thing")
	assert.NotContains(t, out, "do_other17h")
}

func TestExtractsAssemblyForTarget(t *testing.T) {
	asm := TargetedAssembly{
		Target: "x86_64-unknown-linux-gnu",
		Content: `
    .section    .text
    .globl  _ZN4demo5utils8do_thing17h1234abcdE
_ZN4demo5utils8do_thing17h1234abcdE:
    retq

_ZN4demo5utils9do_other17h99999999E:
    retq
`,
	}
	id := symbol.Identity{CrateName: "demo", ModulePath: []string{"utils"}, ItemName: "do_thing", Kind: symbol.KindFreeFunction}
	sym := symbol.FromIdentity(id, "_ZN4demo5utils8do_thing17h1234abcdE", "")

	out, err := Asm([]TargetedAssembly{asm}, sym, "x86_64-unknown-linux-gnu")
	require.NoError(t, err)
	assert.Contains(t, out, "_ZN4demo5utils8do_thing17h1234abcdE:")
	assert.NotContains(t, out, "do_other17h")
}

func TestErrorsWhenTargetMissing(t *testing.T) {
	asm := TargetedAssembly{
		Target:  "aarch64-unknown-linux-gnu",
		Content: "_ZN4demo5utils8do_thing17h1234abcdE:\nret",
	}
	id := symbol.Identity{CrateName: "demo", ModulePath: []string{"utils"}, ItemName: "do_thing", Kind: symbol.KindFreeFunction}
	sym := symbol.FromIdentity(id, "_ZN4demo5utils8do_thing17h1234abcdE", "")

	_, err := Asm([]TargetedAssembly{asm}, sym, "x86_64-unknown-linux-gnu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No assembly artifacts")
}

func TestTierExclusivity(t *testing.T) {
	llvm := `
define void @_ZN4demo5utils8do_thingXX() {
  ret void
}

define void @helper() {
  ; inlined from demo::utils::do_thing
  ret void
}
`
	sym := demoSymbol()
	out, err := LLVMIR([]string{llvm}, sym)
	require.NoError(t, err)
	assert.Contains(t, out, "do_thingXX")
	assert.NotContains(t, out, "@helper")
}

func TestAmbiguousWhenMultipleTierOneMatches(t *testing.T) {
	mir := `
fn demo::utils::do_thing(_1: i32) {
    return;
}

fn demo::utils::do_thing(_2: i32) {
    return;
}
`
	_, err := MIR([]string{mir}, demoSymbol())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Multiple")
}
