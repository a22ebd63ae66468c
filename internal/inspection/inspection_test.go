package inspection

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateWithLimitsIdentityWhenWithinLimits(t *testing.T) {
	text := "line one\nline two\nline three"
	out, truncated, summary := TruncateWithLimits(text, DefaultLimits())
	assert.Equal(t, text, out)
	assert.False(t, truncated)
	assert.Nil(t, summary)
}

func TestTruncateWithLimitsBoundaryExceedsLines(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, "line")
	}
	text := strings.Join(lines, "\n")
	limits := Limits{TimeoutSeconds: 60, MaxOutputBytes: 1 << 20, MaxOutputLines: 5}

	out, truncated, summary := TruncateWithLimits(text, limits)
	require.True(t, truncated)
	require.NotNil(t, summary)

	assert.LessOrEqual(t, summary.KeptLines, limits.MaxOutputLines)
	assert.LessOrEqual(t, summary.KeptBytes, limits.MaxOutputBytes)
	assert.Equal(t, 10, summary.OriginalLines)
	assert.Contains(t, out, "[truncated after")
	assert.Contains(t, out, "original 10 lines")
	assert.Contains(t, out, "limits 5 lines")
}

func TestTruncateWithLimitsBoundaryExceedsBytes(t *testing.T) {
	text := strings.Repeat("x", 100)
	limits := Limits{TimeoutSeconds: 60, MaxOutputBytes: 40, MaxOutputLines: 20_000}

	out, truncated, summary := TruncateWithLimits(text, limits)
	require.True(t, truncated)
	require.NotNil(t, summary)
	assert.LessOrEqual(t, summary.KeptBytes, limits.MaxOutputBytes)
	assert.Contains(t, out, "[truncated after")
}

func TestGatingMonotonicityStrictImpliesLenient(t *testing.T) {
	for _, v := range CuratedViews() {
		for _, channel := range []ToolchainChannel{Stable, Nightly, Dev} {
			if IsViewAdvertised(v, channel, Strict) {
				assert.True(t, IsViewAdvertised(v, channel, Lenient),
					"view %s advertised under Strict but not Lenient for channel %s", v.Name, channel)
			}
		}
	}
}

func TestGatingMonotonicityStableRunnableImpliesNightlyRunnable(t *testing.T) {
	for _, v := range CuratedViews() {
		if IsViewRunnable(v, Stable) {
			assert.True(t, IsViewRunnable(v, Nightly),
				"view %s runnable on stable but not nightly", v.Name)
		}
	}
}

func TestCapabilitiesStableStrictExcludesMIR(t *testing.T) {
	var advertised []string
	for _, v := range CuratedViews() {
		if IsViewAdvertised(v, Stable, Strict) {
			advertised = append(advertised, v.Name)
		}
	}
	assert.NotContains(t, advertised, "mir")
	assert.Contains(t, advertised, "def")
	assert.Contains(t, advertised, "llvm-ir")
	assert.Contains(t, advertised, "asm")
	assert.Contains(t, advertised, "types")
}

func TestCapabilitiesStableLenientIncludesMIRWithDiagnostic(t *testing.T) {
	mirView, ok := FindView("mir")
	require.True(t, ok)

	assert.True(t, IsViewAdvertised(mirView, Stable, Lenient))
	assert.False(t, IsViewRunnable(mirView, Stable))

	var diagnostics []string
	if mirView.RequiresNightly && !Stable.IsNightlyLike() {
		diagnostics = append(diagnostics, "View 'mir' requires nightly")
	}
	assert.Contains(t, diagnostics, "View 'mir' requires nightly")
}

func TestParseGatingModeDefaultsToStrict(t *testing.T) {
	assert.Equal(t, Strict, ParseGatingMode(""))
	assert.Equal(t, Strict, ParseGatingMode("bogus"))
	assert.Equal(t, Lenient, ParseGatingMode("LENIENT"))
	assert.Equal(t, Lenient, ParseGatingMode("  lenient  "))
}

func TestIsNightlyLike(t *testing.T) {
	assert.False(t, Stable.IsNightlyLike())
	assert.True(t, Nightly.IsNightlyLike())
	assert.True(t, Dev.IsNightlyLike())
}

func TestWorkspaceLockForReturnsSameMutexForSamePath(t *testing.T) {
	a := workspaceLockFor("/tmp/workspace-a")
	b := workspaceLockFor("/tmp/workspace-a")
	assert.Same(t, a, b)

	c := workspaceLockFor("/tmp/workspace-b")
	assert.NotSame(t, a, c)
}

func TestLockGuardReleaseIsIdempotent(t *testing.T) {
	ctx := NewContext("/tmp/workspace-guard-test")
	guard := ctx.LockWorkspace()
	guard.Release()
	assert.NotPanics(t, func() { guard.Release() })

	// Lock must be free again: acquiring it a second time must not block.
	guard2 := ctx.LockWorkspace()
	guard2.Release()
}

func TestFindViewCaseInsensitive(t *testing.T) {
	v, ok := FindView("MIR")
	require.True(t, ok)
	assert.Equal(t, "mir", v.Name)

	_, ok = FindView("does-not-exist")
	assert.False(t, ok)
}
