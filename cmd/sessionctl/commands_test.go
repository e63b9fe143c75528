package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/auth"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log:
  level: error
auth:
  jwt_secret: cli-secret
  issuer: livesession
store:
  driver: memory
events:
  driver: none
gateway:
  driver: sandbox
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "--actor", "ops-1", "--role", "admin", "--ttl", "5m")
	require.NoError(t, err)

	actor, err := auth.New("cli-secret", "livesession", time.Hour).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: "ops-1", Role: domain.RoleAdmin}, actor)
}

func TestTokenCommand_RejectsUnknownRole(t *testing.T) {
	_, err := execute(t, "token", "--actor", "ops-1", "--role", "root")
	assert.ErrorContains(t, err, "role must be one of")
}

func TestTokenCommand_RequiresActor(t *testing.T) {
	_, err := execute(t, "token")
	assert.Error(t, err)
}

func TestReconcileCommand_UnknownReservation(t *testing.T) {
	_, err := execute(t, "reconcile", "res-missing", "--capture")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestMigrateCommand_MemoryStoreHasNoSchema(t *testing.T) {
	_, err := execute(t, "migrate")
	assert.ErrorContains(t, err, "no schema to migrate")
}
