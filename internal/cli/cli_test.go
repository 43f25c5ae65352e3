package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certreg/internal/journal"
	jwttoken "certreg/internal/jwt_token"
	"certreg/internal/platform/config"
	"certreg/pkg/testutil"
)

const (
	testAdmin = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	testOrg   = "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("CERTREG_AUTH_SIGNING_KEY", "cli-test-key")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--subject", testOrg, "--ttl", "5m"})
	require.NoError(t, root.Execute())

	claims, err := jwttoken.NewJWTService("cli-test-key", "certreg").ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, testOrg, claims.Subject)
}

func TestTokenCommandRejectsBadSubject(t *testing.T) {
	t.Setenv("CERTREG_AUTH_SIGNING_KEY", "cli-test-key")

	root := NewRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"token", "--subject", "not-an-address"})
	assert.Error(t, root.Execute())
}

func TestServeWiring(t *testing.T) {
	cfg := config.Defaults()
	cfg.Registry.Admin = testAdmin
	cfg.Auth.SigningKey = "wiring-key"
	cfg.Audit.Sink = config.AuditSinkNone
	require.NoError(t, cfg.Validate())

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	promRegistry := prometheus.NewRegistry()
	ctx := context.Background()

	store, closeStore, err := openJournalStore(ctx, &cfg, log)
	require.NoError(t, err)
	defer closeStore()

	pub, closeAudit, err := openAuditPublisher(ctx, &cfg, log)
	require.NoError(t, err)
	defer closeAudit()
	assert.Nil(t, pub)

	reg, err := buildRegistry(&cfg, log, journal.New(store), pub, promRegistry)
	require.NoError(t, err)
	require.NoError(t, reg.Bootstrap(ctx))
	router := newRouter(&cfg, log, reg, promRegistry)

	tokens := jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer)
	adminToken, err := tokens.GenerateToken(testAdmin, cfg.Auth.TokenTTL)
	require.NoError(t, err)

	req := testutil.WithBearer(testutil.NewRequest(t, http.MethodPost, "/v1/organizations/"+testOrg+"/approve"), adminToken)
	rr := testutil.DoRequest(router, req)
	testutil.AssertStatusOK(t, rr)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/stats"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "organizations", float64(1))

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/owner"))
	testutil.AssertJSONHasKey(t, rr, "owner_checksum")

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	assert.Contains(t, rr.Body.String(), "certreg_approved_organizations")
	assert.Contains(t, rr.Body.String(), "certreg_http_requests_total")
}
