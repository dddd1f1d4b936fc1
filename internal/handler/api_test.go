package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aicaptcha/internal/classifier"
	"aicaptcha/internal/repository"
	"aicaptcha/internal/service"
	"aicaptcha/internal/signing"
)

const (
	adminToken  = "admin-token"
	publicToken = "public-token"
)

const payload = `{
	"interactions": {
		"mouseMovements": [{"x": 10, "y": 10, "time": 0}, {"x": 40, "y": 50, "time": 25}],
		"scrollEvents": [{"scrollTop": 0, "time": 0}, {"scrollTop": 300, "time": 400}]
	},
	"duration": 3200,
	"viewport": {"width": 1440, "height": 900},
	"loadTimestamp": 1717243200000
}`

type nopObserver struct{ n atomic.Int64 }

func (o *nopObserver) RecordLabeledWrite(context.Context) { o.n.Add(1) }

type fakeRetrainer struct{ reasons []string }

func (f *fakeRetrainer) Request(reason string) bool {
	f.reasons = append(f.reasons, reason)
	return len(f.reasons) == 1
}

type testServer struct {
	router    *gin.Engine
	authority *signing.Authority
	observer  *nopObserver
	retrainer *fakeRetrainer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	db, err := repository.NewDB(repository.DriverSQLite, filepath.Join(dir, "interactions.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	authority, err := signing.LoadOrGenerate(filepath.Join(dir, "keys"), 2048, zap.NewNop())
	require.NoError(t, err)

	repo := repository.NewInteractionRepository(db, zap.NewNop())
	model := classifier.New(classifier.DefaultFallbackScore, zap.NewNop())
	ts := &testServer{
		authority: authority,
		observer:  &nopObserver{},
		retrainer: &fakeRetrainer{},
	}

	h := NewHandler(
		service.NewChallengeService(repo, model, authority, ts.observer, zap.NewNop()),
		service.NewRecordService(repo, ts.observer, zap.NewNop()),
		authority,
		model,
		ts.retrainer,
		Options{AuthToken: adminToken, PublicToken: publicToken, Cookie: CookieOptions{Name: "session_id"}},
		zap.NewNop(),
	)
	ts.router = gin.New()
	h.RegisterRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path, token string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		data, _ := json.Marshal(b)
		buf.Write(data)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}
	return nil
}

func TestPublicKey(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/public_key", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ts.authority.PublicKeyPEM(), decode(t, w)["public_key"])
}

func TestChallenge(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/challenge", publicToken, map[string]interface{}{
		"data": json.RawMessage(payload),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)
	claims, err := ts.authority.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, 0.5, claims.Score)
	assert.NotEmpty(t, claims.InteractionID)

	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	require.NotEmpty(t, cookie.Value)

	// base64 data and an existing session cookie
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	w = ts.do(http.MethodPost, "/api/challenge", publicToken, map[string]interface{}{
		"data": encoded,
		"save": true,
	}, &http.Cookie{Name: "session_id", Value: cookie.Value})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, cookie.Value, sessionCookie(w).Value)
	assert.Equal(t, int64(1), ts.observer.n.Load())

	claims, err = ts.authority.Verify(decode(t, w)["token"].(string))
	require.NoError(t, err)
	w = ts.do(http.MethodGet, "/api/interactions/"+claims.InteractionID, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cookie.Value, decode(t, w)["session_id"])
}

func TestChallengeRejections(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/challenge", "", map[string]interface{}{"data": json.RawMessage(payload)})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/challenge", adminToken, map[string]interface{}{"data": json.RawMessage(payload)})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/challenge", publicToken, `{"data": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON format", decode(t, w)["error"])

	w = ts.do(http.MethodPost, "/api/challenge", publicToken, map[string]interface{}{
		"data": json.RawMessage(`{"interactions": {}, "viewport": {}, "loadTimestamp": 1}`),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	msg, _ := decode(t, w)["error"].(string)
	assert.True(t, strings.HasPrefix(msg, "JSON validation error: "), msg)
	assert.Contains(t, msg, "'duration' is a required property")

	w = ts.do(http.MethodPost, "/api/challenge", publicToken, map[string]interface{}{"save": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(0), ts.observer.n.Load())
}

func TestStoreUpdateAndLabels(t *testing.T) {
	ts := newTestServer(t)
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	w := ts.do(http.MethodPost, "/api/store", publicToken, map[string]interface{}{"data": encoded})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/store", adminToken, map[string]interface{}{"data": encoded, "label": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Data stored successfully", body["message"])
	id, _ := body["interaction_id"].(string)
	require.NotEmpty(t, id)
	assert.NotNil(t, sessionCookie(w))

	w = ts.do(http.MethodPost, "/api/store", adminToken, map[string]interface{}{"data": "%%%"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/store", adminToken, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/update", adminToken, map[string]interface{}{"interaction_id": id, "label": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Label updated successfully", decode(t, w)["message"])

	w = ts.do(http.MethodPost, "/api/update", adminToken, map[string]interface{}{"interaction_id": "nope", "label": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Interaction ID not found", decode(t, w)["error"])

	w = ts.do(http.MethodPost, "/api/update", adminToken, map[string]interface{}{"interaction_id": id})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/interactions/"+id, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode(t, w)
	assert.Equal(t, 1.0, rec["label"])
	assert.Equal(t, "Firefox", rec["user_agent"].(map[string]interface{})["browser"])

	w = ts.do(http.MethodGet, "/api/interactions/nope", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/labels", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"labels": [{"label": 1, "count": 1}], "unlabeled": 0}`, w.Body.String())

	assert.Equal(t, int64(2), ts.observer.n.Load())
}

func TestRetrainAndModel(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/retrain", adminToken, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["queued"])
	assert.Equal(t, []string{"manual"}, ts.retrainer.reasons)

	w = ts.do(http.MethodGet, "/api/model", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["loaded"])

	w = ts.do(http.MethodGet, "/api/model", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	ts.do(http.MethodPost, "/api/challenge", "", nil)
	w = ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `aicaptcha_challenges_total{outcome="unauthorized"}`)
}
