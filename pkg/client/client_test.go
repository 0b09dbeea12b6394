package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-recovery/pkg/auth"
	"github.com/Mindburn-Labs/helm-recovery/pkg/client"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
	"github.com/Mindburn-Labs/helm-recovery/pkg/recovery"
	"github.com/Mindburn-Labs/helm-recovery/pkg/store/guardians"
	"github.com/Mindburn-Labs/helm-recovery/pkg/store/ledger"
)

type capture struct {
	mu   sync.Mutex
	last recovery.UpdateRequest
}

func (c *capture) RequestUpdate(ctx context.Context, req recovery.UpdateRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = req
	return nil
}

type env struct {
	url     string
	keys    identity.KeySet
	updater *capture
}

func newEnv(t *testing.T) *env {
	t.Helper()
	coord, err := recovery.NewCoordinator(guardians.NewMemoryDirectory(), ledger.NewMemoryLedger(),
		recovery.Config{RecoveryPeriod: time.Nanosecond})
	require.NoError(t, err)
	upd := &capture{}
	coord.SetUpdater(upd)

	keys, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)

	mux := http.NewServeMux()
	recovery.NewHandler(coord).RegisterRoutes(mux)
	srv := httptest.NewServer(auth.RequestIDMiddleware(auth.NewMiddleware(auth.NewJWTValidator(keys, ""))(mux)))
	t.Cleanup(srv.Close)

	return &env{url: srv.URL, keys: keys, updater: upd}
}

func (e *env) as(t *testing.T, account string) *client.Client {
	t.Helper()
	tok, err := e.keys.Sign(context.Background(), auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   account,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	require.NoError(t, err)
	return client.New(e.url, client.WithToken(tok), client.WithTimeout(5*time.Second))
}

func TestClient_RecoveryLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob, carol := e.as(t, "alice"), e.as(t, "bob"), e.as(t, "carol")

	require.NoError(t, alice.SetGuardians(ctx, "bob", "carol", "dave"))
	g, err := bob.GetGuardians(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol", "dave"}, g.Guardians)

	id, err := alice.InitiateRecovery(ctx, "alice", "cred-1")
	require.NoError(t, err)

	require.NoError(t, bob.ApproveRecovery(ctx, id))
	require.NoError(t, carol.ApproveRecovery(ctx, id))
	n, err := alice.GetApprovalCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	view, err := alice.GetRecoveryRequest(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, ledger.StateReadyForExecution, view.State)

	exec, err := alice.ExecuteRecovery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, exec.RequestID)

	e.updater.mu.Lock()
	dispatch := e.updater.last
	e.updater.mu.Unlock()
	require.Equal(t, exec.AttemptID, dispatch.AttemptID)

	system := client.New(e.url)
	require.NoError(t, system.ReportResult(ctx, id, dispatch.CallbackToken, recovery.UpdateResult{
		AttemptID: dispatch.AttemptID,
		Outcome:   recovery.OutcomeSuccess,
	}))

	view, err = alice.GetRecoveryRequest(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, view, "completed request is no longer tracked")
}

func TestClient_APIError(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	err := e.as(t, "alice").SetGuardians(ctx, "bob")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Bad Request", apiErr.Title)
	assert.NotEmpty(t, apiErr.TraceID)

	err = client.New(e.url).ApproveRecovery(ctx, "abc")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = e.as(t, "alice").ExecuteRecovery(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
