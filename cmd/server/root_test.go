package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("ASSESSOR_DATABASE_DRIVER", "memory")
	t.Setenv("ASSESSOR_LOG_LEVEL", "error")
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config-dir", t.TempDir()}, args...))
	return cmd.ExecuteContext(context.Background())
}

func TestLockAndUnlockCommands(t *testing.T) {
	municipality := uuid.NewString()
	require.NoError(t, run(t, "lock", "--municipality", municipality, "--year", "2024", "--reason", "certified"))
	require.NoError(t, run(t, "unlock", "--municipality", municipality, "--year", "2024"))
}

func TestRecalcCommandOnEmptyStore(t *testing.T) {
	require.NoError(t, run(t, "recalc", "--municipality", uuid.NewString(), "--year", "2024"))
}

func TestCommandsValidateFlags(t *testing.T) {
	err := run(t, "lock", "--municipality", "nope", "--year", "2024")
	assert.ErrorContains(t, err, "invalid --municipality")

	err = run(t, "recalc", "--municipality", uuid.NewString(), "--year=0")
	assert.ErrorContains(t, err, "--year must be positive")

	err = run(t, "migrate")
	assert.ErrorContains(t, err, `driver "memory" has no migrations`)
}
