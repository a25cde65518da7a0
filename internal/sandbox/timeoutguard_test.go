package sandbox

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTimeoutGuardDisabledForNonPositiveDuration(t *testing.T) {
	g := newTimeoutGuard(context.Background(), 0, exec.Command("true"))
	require.False(t, g.armed)
	g.stop()
	require.False(t, g.timedOutFlag())
}

func TestTimeoutGuardFiresAfterDeadline(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer cmd.Wait() //nolint:errcheck

	g := newTimeoutGuard(context.Background(), 30*time.Millisecond, cmd)
	require.True(t, g.armed)

	waitErr := cmd.Wait()
	require.Error(t, waitErr, "the guard should have killed the process before it slept 5s")

	g.stop()
	require.True(t, g.timedOutFlag())
}

func TestTimeoutGuardStopBeforeDeadlineDoesNotFlagTimeout(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	g := newTimeoutGuard(context.Background(), time.Hour, cmd)
	g.stop()
	require.False(t, g.timedOutFlag())
}
