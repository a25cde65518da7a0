package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// withBuildMode runs fn with buildMode temporarily set to mode, restoring the
// prior value afterward so tests don't leak state into one another.
func withBuildMode(t *testing.T, mode string, fn func()) {
	t.Helper()
	prev := buildMode
	buildMode = mode
	t.Cleanup(func() { buildMode = prev })
	fn()
}

func TestIsElevated(t *testing.T) {
	require.False(t, Permissions{Filesystem: FilesystemNone, Network: NetworkNone}.IsElevated())
	require.True(t, Permissions{Filesystem: FilesystemReadOnly, Network: NetworkNone}.IsElevated())
	require.True(t, Permissions{Filesystem: FilesystemNone, Network: NetworkLoopback}.IsElevated())
}

func TestEnforceEscalationPolicyAllowsNonePermissions(t *testing.T) {
	withBuildMode(t, "release", func() {
		err := enforceEscalationPolicy(Permissions{Filesystem: FilesystemNone, Network: NetworkNone})
		require.NoError(t, err)
	})
}

func TestEnforceEscalationPolicyRejectsElevatedInReleaseMode(t *testing.T) {
	withBuildMode(t, "release", func() {
		t.Setenv("XLCORE_UNSAFE_PYTHON_PERMISSIONS", "true")
		err := enforceEscalationPolicy(Permissions{Filesystem: FilesystemReadWrite})
		require.True(t, mcperr.Is(err, mcperr.PermissionDenied))
	})
}

func TestEnforceEscalationPolicyRejectsElevatedInDevModeWithoutEscapeHatch(t *testing.T) {
	withBuildMode(t, "dev", func() {
		t.Setenv("XLCORE_UNSAFE_PYTHON_PERMISSIONS", "")
		err := enforceEscalationPolicy(Permissions{Network: NetworkUnrestricted})
		require.True(t, mcperr.Is(err, mcperr.PermissionDenied))
	})
}

func TestEnforceEscalationPolicyAllowsElevatedInDevModeWithEscapeHatch(t *testing.T) {
	withBuildMode(t, "dev", func() {
		t.Setenv("XLCORE_UNSAFE_PYTHON_PERMISSIONS", "1")
		err := enforceEscalationPolicy(Permissions{Filesystem: FilesystemReadOnly, Network: NetworkLoopback})
		require.NoError(t, err)
	})
}

func TestUnsafePermissionsEnabledAcceptsVariousTruthyValues(t *testing.T) {
	withBuildMode(t, "dev", func() {
		for _, v := range []string{"1", "true", "TRUE", "yes", "YES"} {
			t.Setenv("XLCORE_UNSAFE_PYTHON_PERMISSIONS", v)
			require.True(t, unsafePermissionsEnabled(), "value %q should enable the escape hatch", v)
		}
		for _, v := range []string{"0", "false", "no", ""} {
			t.Setenv("XLCORE_UNSAFE_PYTHON_PERMISSIONS", v)
			require.False(t, unsafePermissionsEnabled(), "value %q should not enable the escape hatch", v)
		}
	})
}

func TestUnsafePermissionsEnabledAlwaysFalseInReleaseMode(t *testing.T) {
	withBuildMode(t, "release", func() {
		t.Setenv("XLCORE_UNSAFE_PYTHON_PERMISSIONS", "1")
		require.False(t, unsafePermissionsEnabled())
	})
}

func TestSetBuildModeIgnoresEmptyString(t *testing.T) {
	withBuildMode(t, "dev", func() {
		SetBuildMode("")
		require.Equal(t, "dev", buildMode)
		SetBuildMode("release")
		require.Equal(t, "release", buildMode)
	})
}
