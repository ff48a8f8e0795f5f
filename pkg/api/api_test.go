package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
	"github.com/marmos91/trustd/pkg/powerauth/service"
	"github.com/marmos91/trustd/pkg/powerauth/store"
)

type apiTestEnv struct {
	handler http.Handler
	store   *store.Store
	app     *model.Application
	appKey  string
}

func setupAPITest(t *testing.T, restrictAccess bool) *apiTestEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	app := &model.Application{Name: "api-test-app"}
	if err := st.CreateApplication(ctx, app); err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	appKeyBytes, _ := crypto.RandomBytes(16)
	appSecret, _ := crypto.RandomBytes(16)
	appKey := base64.StdEncoding.EncodeToString(appKeyBytes)
	if err := st.CreateApplicationVersion(ctx, &model.ApplicationVersion{
		ApplicationID:     app.ID,
		Name:              "default",
		ApplicationKey:    appKey,
		ApplicationSecret: base64.StdEncoding.EncodeToString(appSecret),
		Supported:         true,
	}); err != nil {
		t.Fatalf("Failed to create application version: %v", err)
	}
	masterKey, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate master key pair: %v", err)
	}
	if err := st.CreateMasterKeyPair(ctx, &model.MasterKeyPair{
		ApplicationID:    app.ID,
		Name:             "initial",
		MasterKeyPublic:  base64.StdEncoding.EncodeToString(crypto.PublicKeyBytes(masterKey.PublicKey())),
		MasterKeyPrivate: base64.StdEncoding.EncodeToString(crypto.PrivateKeyBytes(masterKey)),
		TimestampCreated: time.Now(),
	}); err != nil {
		t.Fatalf("Failed to create master key pair: %v", err)
	}

	svc := service.New(st, service.Config{}, nil, nil)
	return &apiTestEnv{
		handler: NewRouter(svc, st, nil, restrictAccess),
		store:   st,
		app:     app,
		appKey:  appKey,
	}
}

func postEnvelope(t *testing.T, handler http.Handler, path string, requestObject any) *httptest.ResponseRecorder {
	t.Helper()
	inner, err := json.Marshal(requestObject)
	if err != nil {
		t.Fatalf("Failed to marshal request object: %v", err)
	}
	body := fmt.Sprintf(`{"requestObject":%s}`, inner)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status         string          `json:"status"`
	ResponseObject json.RawMessage `json:"responseObject"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, dst any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("Failed to unmarshal envelope: %v, body = %s", err, w.Body.String())
	}
	if dst != nil && len(env.ResponseObject) > 0 {
		if err := json.Unmarshal(env.ResponseObject, dst); err != nil {
			t.Fatalf("Failed to unmarshal response object: %v", err)
		}
	}
	return env
}

func TestActivationInitEndpoint(t *testing.T) {
	e := setupAPITest(t, false)
	handler, app := e.handler, e.app

	w := postEnvelope(t, handler, "/v3/activation/init", map[string]any{
		"userId":        "alice",
		"applicationId": app.ID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("init status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		ActivationID        string `json:"activationId"`
		ActivationCode      string `json:"activationCode"`
		ActivationSignature string `json:"activationSignature"`
	}
	env := decodeEnvelope(t, w, &resp)
	if env.Status != "OK" {
		t.Errorf("status = %s, want OK", env.Status)
	}
	if resp.ActivationID == "" || resp.ActivationSignature == "" {
		t.Errorf("incomplete response: %+v", resp)
	}
	if !crypto.ValidateActivationCode(resp.ActivationCode) {
		t.Errorf("activation code %q fails checksum", resp.ActivationCode)
	}

	t.Run("missing user id", func(t *testing.T) {
		w := postEnvelope(t, handler, "/v3/activation/init", map[string]any{
			"applicationId": app.ID,
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		var errObj struct {
			Code string `json:"code"`
		}
		decodeEnvelope(t, w, &errObj)
		if errObj.Code != "ERR_INVALID_REQUEST" {
			t.Errorf("code = %s, want ERR_INVALID_REQUEST", errObj.Code)
		}
	})
}

func TestActivationStatusUnknownID(t *testing.T) {
	handler := setupAPITest(t, false).handler

	w := postEnvelope(t, handler, "/v3/activation/status", map[string]any{
		"activationId": "no-such-activation",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		ActivationStatus string `json:"activationStatus"`
	}
	decodeEnvelope(t, w, &resp)
	if resp.ActivationStatus != "REMOVED" {
		t.Errorf("unknown id must report REMOVED, got %s", resp.ActivationStatus)
	}
}

func TestCommitInvalidStateEndpoint(t *testing.T) {
	e := setupAPITest(t, false)
	handler, app := e.handler, e.app

	var initResp struct {
		ActivationID string `json:"activationId"`
	}
	w := postEnvelope(t, handler, "/v3/activation/init", map[string]any{
		"userId":        "alice",
		"applicationId": app.ID,
	})
	decodeEnvelope(t, w, &initResp)

	w = postEnvelope(t, handler, "/v3/activation/commit", map[string]any{
		"activationId": initResp.ActivationID,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("commit on CREATED = %d, want 400", w.Code)
	}
	var errObj struct {
		Code string `json:"code"`
	}
	decodeEnvelope(t, w, &errObj)
	if errObj.Code != "ERR_ACTIVATION_INVALID_STATE" {
		t.Errorf("code = %s, want ERR_ACTIVATION_INVALID_STATE", errObj.Code)
	}
}

func TestMalformedEnvelope(t *testing.T) {
	handler := setupAPITest(t, false).handler

	req := httptest.NewRequest(http.MethodPost, "/v3/activation/status", bytes.NewReader([]byte(`{"wrong":"shape"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var errObj struct {
		Code string `json:"code"`
	}
	decodeEnvelope(t, w, &errObj)
	if errObj.Code != "ERR_INVALID_REQUEST" {
		t.Errorf("code = %s, want ERR_INVALID_REQUEST", errObj.Code)
	}
}

func TestRestrictedAccess(t *testing.T) {
	e := setupAPITest(t, true)
	handler, st, app := e.handler, e.store, e.app

	// health stays open
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}

	// protocol endpoints require credentials
	w = postEnvelope(t, handler, "/v3/activation/status", map[string]any{
		"activationId": "x",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request = %d, want 401", w.Code)
	}

	integration, secret, err := st.CreateIntegration(context.Background(), "test-integration")
	if err != nil {
		t.Fatalf("Failed to create integration: %v", err)
	}

	body := fmt.Sprintf(`{"requestObject":{"userId":"alice","applicationId":%d}}`, app.ID)
	authReq := httptest.NewRequest(http.MethodPost, "/v3/activation/init", bytes.NewReader([]byte(body)))
	authReq.Header.Set("Content-Type", "application/json")
	authReq.SetBasicAuth(integration.ClientToken, secret)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authReq)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated init = %d, body = %s", w.Code, w.Body.String())
	}

	authReq = httptest.NewRequest(http.MethodPost, "/v3/activation/status", bytes.NewReader([]byte(`{"requestObject":{"activationId":"x"}}`)))
	authReq.SetBasicAuth(integration.ClientToken, "wrong-secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authReq)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret = %d, want 401", w.Code)
	}
}

func TestSignatureVerifyNotUsableActivation(t *testing.T) {
	e := setupAPITest(t, false)
	handler, app := e.handler, e.app

	var initResp struct {
		ActivationID string `json:"activationId"`
	}
	w := postEnvelope(t, handler, "/v3/activation/init", map[string]any{
		"userId":        "alice",
		"applicationId": app.ID,
	})
	decodeEnvelope(t, w, &initResp)

	w = postEnvelope(t, handler, "/v3/signature/verify", map[string]any{
		"activationId":   initResp.ActivationID,
		"applicationKey": e.appKey,
		"data":           "POST&/pa/signature/validate",
		"signature":      "00000000",
		"signatureType":  "POSSESSION",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("verify = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		SignatureValid bool `json:"signatureValid"`
	}
	decodeEnvelope(t, w, &resp)
	if resp.SignatureValid {
		t.Error("signature against a CREATED activation verified")
	}
}
