package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/relay/pkg/observability"
	"github.com/platinummonkey/relay/pkg/oidcrp"
	"github.com/platinummonkey/relay/pkg/openid"
	"github.com/platinummonkey/relay/pkg/saml"
	"github.com/platinummonkey/relay/pkg/state"
)

type fakeOpenID struct {
	completion *openid.Completion
	err        error
}

func (f *fakeOpenID) Complete(context.Context, string, url.Values) (*openid.Completion, error) {
	return f.completion, f.err
}

type fakeSAML struct {
	result *saml.Result
	err    error
}

func (f *fakeSAML) Consume(context.Context, string) (*saml.Result, error) {
	return f.result, f.err
}

type fakeOIDC struct {
	completion  *oidcrp.Completion
	err         error
	redirectURL string
	beginErr    error
}

func (f *fakeOIDC) BeginRedirect(context.Context, string) (string, error) {
	return f.redirectURL, f.beginErr
}

func (f *fakeOIDC) Complete(context.Context, string, string) (*oidcrp.Completion, error) {
	return f.completion, f.err
}

func newTestServer(t *testing.T, opts Options) (*Server, *observability.Metrics) {
	t.Helper()
	if opts.Store == nil {
		store, err := state.NewFileSystemStore(t.TempDir())
		require.NoError(t, err)
		opts.Store = store
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	opts.Metrics = metrics
	opts.Health = observability.NewHealthChecker(map[string]observability.CheckFunc{
		"store": func(context.Context) error { return nil },
	})
	return NewServer(opts), metrics
}

func TestOpenIDCallbackSuccessPage(t *testing.T) {
	srv, metrics := newTestServer(t, Options{
		OpenID: &fakeOpenID{completion: &openid.Completion{
			Outcome: state.OutcomeSuccess,
			Subject: "https://idp.example/u42",
		}},
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/openid/cb/n1?openid.mode=id_res", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Congratulations!")
	assert.Contains(t, rec.Body.String(), "https://idp.example/u42")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.OutcomesTotal.WithLabelValues("openid", "success")))
}

func TestOpenIDCallbackCancelAndFailurePages(t *testing.T) {
	for _, tc := range []struct {
		outcome state.Outcome
		want    string
	}{
		{state.OutcomeCancel, "Authentication cancelled."},
		{state.OutcomeFailure, "Authentication failed."},
	} {
		srv, _ := newTestServer(t, Options{OpenID: &fakeOpenID{completion: &openid.Completion{Outcome: tc.outcome}}})
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest("GET", "/openid/cb/n1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), tc.want)
	}
}

func TestOpenIDCallbackMalformedToken(t *testing.T) {
	srv, metrics := newTestServer(t, Options{OpenID: &fakeOpenID{err: state.ErrMalformedToken}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/openid/cb/bad%20token", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MalformedTokensTotal.WithLabelValues("openid_callback")))
}

func TestOpenIDCallbackReplay(t *testing.T) {
	srv, metrics := newTestServer(t, Options{OpenID: &fakeOpenID{err: state.ErrAlreadyTerminal}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/openid/cb/n1", nil))

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "already completed")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReplaysTotal.WithLabelValues("openid")))
}

func postACS(srv *Server, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/saml/acs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestSAMLACSSuccess(t *testing.T) {
	srv, metrics := newTestServer(t, Options{
		SAML: &fakeSAML{result: &saml.Result{
			Token:   "n1",
			Outcome: state.OutcomeSuccess,
			Subject: "user@idp.example",
		}},
	})

	rec := postACS(srv, url.Values{"SAMLResponse": {"ZmFrZQ=="}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user@idp.example")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.OutcomesTotal.WithLabelValues("saml", "success")))
}

func TestSAMLACSMissingResponse(t *testing.T) {
	srv, _ := newTestServer(t, Options{SAML: &fakeSAML{}})

	rec := postACS(srv, url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing SAMLResponse")
}

func TestSAMLACSUnparseable(t *testing.T) {
	srv, _ := newTestServer(t, Options{SAML: &fakeSAML{err: saml.ErrUnparseable}})

	rec := postACS(srv, url.Values{"SAMLResponse": {"not base64"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unparseable")
}

func TestOIDCRouteOnlyWhenConfigured(t *testing.T) {
	srv, _ := newTestServer(t, Options{OpenID: &fakeOpenID{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/oidc/cb/n1?code=x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv, _ = newTestServer(t, Options{
		OIDC: &fakeOIDC{completion: &oidcrp.Completion{Outcome: state.OutcomeSuccess, Subject: "op-sub-42"}},
	})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/oidc/cb/n1?code=x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "op-sub-42")
}

func TestOIDCCallbackRequiresCode(t *testing.T) {
	srv, _ := newTestServer(t, Options{OIDC: &fakeOIDC{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/oidc/cb/n1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOIDCRedirect(t *testing.T) {
	srv, _ := newTestServer(t, Options{
		OIDC: &fakeOIDC{redirectURL: "https://op.example/authorize?state=n1"},
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/oidc/redirect/n1", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://op.example/authorize?state=n1", rec.Header().Get("Location"))
}

func TestOIDCRedirectUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t, Options{OIDC: &fakeOIDC{beginErr: state.ErrNotFound}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/oidc/redirect/n1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOIDCRedirectAbsentWithoutProvider(t *testing.T) {
	srv, _ := newTestServer(t, Options{OpenID: &fakeOpenID{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/oidc/redirect/n1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{OpenID: &fakeOpenID{}})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func registerJSON(srv *Server, token string, body map[string]string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/state/"+token, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestStateRegisterAndPoll(t *testing.T) {
	store, err := state.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	srv, _ := newTestServer(t, Options{Store: store, OpenID: &fakeOpenID{}})

	rec := registerJSON(srv, "abc123", map[string]string{
		"identity_url": "https://example.org/u",
		"realm":        "https://mail.example.com/",
		"return_to":    "https://mail.example.com/cb/abc123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/state/abc123", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Outcome)
	assert.Empty(t, resp.Subject)

	require.NoError(t, store.Complete(context.Background(), "abc123", state.OutcomeSuccess, map[string]string{
		state.FieldSubject: "https://example.org/u",
	}))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/state/abc123", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Outcome)
	assert.Equal(t, "https://example.org/u", resp.Subject)
}

func TestStateRegisterConflict(t *testing.T) {
	srv, _ := newTestServer(t, Options{OpenID: &fakeOpenID{}})
	body := map[string]string{"return_to": "https://mail.example.com/cb/n1"}

	require.Equal(t, http.StatusCreated, registerJSON(srv, "n1", body).Code)
	assert.Equal(t, http.StatusConflict, registerJSON(srv, "n1", body).Code)
}

func TestStateRegisterValidation(t *testing.T) {
	srv, metrics := newTestServer(t, Options{OpenID: &fakeOpenID{}})

	rec := registerJSON(srv, "bad..token", map[string]string{"return_to": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MalformedTokensTotal.WithLabelValues("state_register")))

	req := httptest.NewRequest("POST", "/state/n1", strings.NewReader("{garbage"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// A mail server expecting a SAML answer registers the bare token before it
// knows anything else about the attempt.
func TestStateRegisterEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t, Options{OpenID: &fakeOpenID{}})

	req := httptest.NewRequest("POST", "/state/saml7", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/state/saml7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Outcome)
}

// SAML records are created by the assertion consumer at callback time and
// carry no request fields; polling must still report their outcome.
func TestStatePollCallbackCreatedRecord(t *testing.T) {
	store, err := state.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	srv, _ := newTestServer(t, Options{Store: store, SAML: &fakeSAML{}})

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "saml1"))
	require.NoError(t, store.SetField(ctx, "saml1", state.FieldRawPayload, "<samlp:Response/>"))
	require.NoError(t, store.Complete(ctx, "saml1", state.OutcomeSuccess, map[string]string{
		state.FieldSubject: "user@idp.example",
	}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/state/saml1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Outcome)
	assert.Equal(t, "user@idp.example", resp.Subject)
}

func TestStatePollUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t, Options{OpenID: &fakeOpenID{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/state/nope1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailurePollIncludesErrorDetail(t *testing.T) {
	store, err := state.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	srv, _ := newTestServer(t, Options{Store: store, OpenID: &fakeOpenID{}})

	require.Equal(t, http.StatusCreated, registerJSON(srv, "n1", map[string]string{
		"return_to": "https://mail.example.com/cb/n1",
	}).Code)
	require.NoError(t, store.Complete(context.Background(), "n1", state.OutcomeCancel, map[string]string{
		state.FieldError: "openid.error=cancel",
	}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/state/n1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cancel", resp.Outcome)
	assert.Equal(t, "openid.error=cancel", resp.Error)
}
