package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedApplication(t *testing.T, s *Store) (*model.Application, *model.ApplicationVersion, *model.MasterKeyPair) {
	t.Helper()
	ctx := context.Background()

	app := &model.Application{Name: "test-app-" + t.Name()}
	if err := s.CreateApplication(ctx, app); err != nil {
		t.Fatalf("failed to create application: %v", err)
	}

	version := &model.ApplicationVersion{
		ApplicationID:     app.ID,
		Name:              "default",
		ApplicationKey:    "key-" + t.Name(),
		ApplicationSecret: "secret-" + t.Name(),
		Supported:         true,
	}
	if err := s.CreateApplicationVersion(ctx, version); err != nil {
		t.Fatalf("failed to create application version: %v", err)
	}

	keyPair := &model.MasterKeyPair{
		ApplicationID:    app.ID,
		Name:             "initial",
		MasterKeyPublic:  "pub",
		MasterKeyPrivate: "priv",
		TimestampCreated: time.Now(),
	}
	if err := s.CreateMasterKeyPair(ctx, keyPair); err != nil {
		t.Fatalf("failed to create master key pair: %v", err)
	}
	return app, version, keyPair
}

func newActivation(app *model.Application, keyPair *model.MasterKeyPair, id, code string) *model.Activation {
	now := time.Now()
	return &model.Activation{
		ActivationID:      id,
		ActivationCode:    code,
		UserID:            "user-1",
		ApplicationID:     app.ID,
		MasterKeyPairID:   keyPair.ID,
		ActivationStatus:  model.StatusCreated,
		MaxFailedAttempts: 5,
		Version:           3,

		TimestampCreated:          now,
		TimestampActivationExpire: now.Add(5 * time.Minute),
		TimestampLastUsed:         now,
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()
		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
		if config.CacheTTL == 0 {
			t.Error("expected non-zero cache TTL")
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		if _, err := New(&Config{Type: "invalid"}); err == nil {
			t.Error("expected error for invalid config")
		}
	})
}

func TestActivationLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	app, _, keyPair := seedApplication(t, s)

	activation := newActivation(app, keyPair, "act-1", "AAAAA-BBBBB-CCCCC-DDDDD")
	if err := s.CreateActivation(ctx, activation); err != nil {
		t.Fatalf("failed to create activation: %v", err)
	}

	t.Run("get by id", func(t *testing.T) {
		got, err := s.GetActivation(ctx, "act-1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.ActivationStatus != model.StatusCreated {
			t.Errorf("expected CREATED, got %s", got.ActivationStatus)
		}
	})

	t.Run("unknown id maps to domain error", func(t *testing.T) {
		_, err := s.GetActivation(ctx, "missing")
		if !errors.Is(err, model.ErrActivationNotFound) {
			t.Errorf("expected ErrActivationNotFound, got %v", err)
		}
	})

	t.Run("find pending by code", func(t *testing.T) {
		got, err := s.FindActivationByCode(ctx, app.ID, "AAAAA-BBBBB-CCCCC-DDDDD")
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if got.ActivationID != "act-1" {
			t.Errorf("expected act-1, got %s", got.ActivationID)
		}
	})

	t.Run("code existence respects non-terminal states", func(t *testing.T) {
		exists, err := s.ActivationCodeExists(ctx, app.ID, "AAAAA-BBBBB-CCCCC-DDDDD")
		if err != nil || !exists {
			t.Fatalf("expected code in use (err=%v)", err)
		}

		err = s.WithActivationForUpdate(ctx, "act-1", func(tx *gorm.DB, a *model.Activation) error {
			a.ActivationStatus = model.StatusRemoved
			return nil
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}

		exists, err = s.ActivationCodeExists(ctx, app.ID, "AAAAA-BBBBB-CCCCC-DDDDD")
		if err != nil || exists {
			t.Fatalf("expected code reusable after terminal state (err=%v)", err)
		}
	})
}

func TestWithActivationForUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	app, _, keyPair := seedApplication(t, s)

	if err := s.CreateActivation(ctx, newActivation(app, keyPair, "act-2", "EEEEE-FFFFF-GGGGG-HHHHH")); err != nil {
		t.Fatalf("failed to create activation: %v", err)
	}

	t.Run("mutations persist", func(t *testing.T) {
		err := s.WithActivationForUpdate(ctx, "act-2", func(tx *gorm.DB, a *model.Activation) error {
			a.Counter = 7
			a.FailedAttempts = 2
			return nil
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}

		got, err := s.GetActivation(ctx, "act-2")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Counter != 7 || got.FailedAttempts != 2 {
			t.Errorf("expected counter=7 failed=2, got %d/%d", got.Counter, got.FailedAttempts)
		}
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		sentinel := errors.New("boom")
		err := s.WithActivationForUpdate(ctx, "act-2", func(tx *gorm.DB, a *model.Activation) error {
			a.Counter = 99
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected sentinel error, got %v", err)
		}

		got, _ := s.GetActivation(ctx, "act-2")
		if got.Counter != 7 {
			t.Errorf("expected rollback to counter=7, got %d", got.Counter)
		}
	})

	t.Run("audit joins the transaction", func(t *testing.T) {
		sentinel := errors.New("fail after audit")
		err := s.WithActivationForUpdate(ctx, "act-2", func(tx *gorm.DB, a *model.Activation) error {
			entry := &model.SignatureAudit{
				ActivationID:     a.ActivationID,
				ApplicationID:    a.ApplicationID,
				UserID:           a.UserID,
				SignatureType:    "POSSESSION",
				DataFingerprint:  "fp",
				Valid:            false,
				Counter:          a.Counter,
				TimestampCreated: time.Now(),
			}
			if err := s.AppendSignatureAudit(ctx, tx, entry); err != nil {
				return err
			}
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected sentinel error, got %v", err)
		}

		entries, err := s.ListSignatureAudit(ctx, "act-2", nil, nil)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected audit entry rolled back, found %d", len(entries))
		}
	})
}

func TestExpiredPendingActivationIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	app, _, keyPair := seedApplication(t, s)

	expired := newActivation(app, keyPair, "act-expired", "IIIII-JJJJJ-KKKKK-LLLLL")
	expired.TimestampActivationExpire = time.Now().Add(-time.Minute)
	fresh := newActivation(app, keyPair, "act-fresh", "MMMMM-NNNNN-OOOOO-PPPPP")

	for _, a := range []*model.Activation{expired, fresh} {
		if err := s.CreateActivation(ctx, a); err != nil {
			t.Fatalf("failed to create activation: %v", err)
		}
	}

	ids, err := s.ExpiredPendingActivationIDs(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "act-expired" {
		t.Errorf("expected [act-expired], got %v", ids)
	}
}

func TestApplicationVersionCache(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, version, _ := seedApplication(t, s)

	first, err := s.GetApplicationVersionByKey(ctx, version.ApplicationKey)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	// Served from cache even if the row changes underneath
	s.DB().Model(&model.ApplicationVersion{}).
		Where("id = ?", version.ID).
		Update("supported", false)

	second, err := s.GetApplicationVersionByKey(ctx, version.ApplicationKey)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if second.Supported != first.Supported {
		t.Error("expected cached read")
	}

	// Invalidation through the store API is visible immediately
	if err := s.SetApplicationVersionSupported(ctx, version.ApplicationKey, true); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	third, err := s.GetApplicationVersionByKey(ctx, version.ApplicationKey)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !third.Supported {
		t.Error("expected supported=true after invalidation")
	}
}

func TestLatestMasterKeyPair(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	app, _, first := seedApplication(t, s)

	rotated := &model.MasterKeyPair{
		ApplicationID:    app.ID,
		Name:             "rotated",
		MasterKeyPublic:  "pub2",
		MasterKeyPrivate: "priv2",
		TimestampCreated: first.TimestampCreated.Add(time.Hour),
	}
	if err := s.CreateMasterKeyPair(ctx, rotated); err != nil {
		t.Fatalf("failed to rotate key pair: %v", err)
	}

	latest, err := s.LatestMasterKeyPair(ctx, app.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if latest.Name != "rotated" {
		t.Errorf("expected rotated pair, got %s", latest.Name)
	}

	// The snapshot reference still resolves the old pair.
	snapshot, err := s.GetMasterKeyPair(ctx, first.ID)
	if err != nil {
		t.Fatalf("snapshot lookup failed: %v", err)
	}
	if snapshot.Name != "initial" {
		t.Errorf("expected initial pair, got %s", snapshot.Name)
	}
}

func TestIntegrations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	integration, secret, err := s.CreateIntegration(ctx, "admin-console")
	if err != nil {
		t.Fatalf("failed to create integration: %v", err)
	}
	if secret == "" {
		t.Fatal("expected plaintext secret returned once")
	}

	t.Run("valid credentials", func(t *testing.T) {
		got, err := s.VerifyIntegration(ctx, integration.ClientToken, secret)
		if err != nil {
			t.Fatalf("verify failed: %v", err)
		}
		if got.Name != "admin-console" {
			t.Errorf("unexpected integration: %s", got.Name)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := s.VerifyIntegration(ctx, integration.ClientToken, "wrong")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := s.VerifyIntegration(ctx, "missing", secret)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestTokens(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	token := &model.Token{
		ID:               "tok-1",
		ActivationID:     "act-1",
		TokenSecret:      "c2VjcmV0",
		SignatureType:    "POSSESSION",
		TimestampCreated: time.Now(),
	}
	if err := s.CreateToken(ctx, token); err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	if _, err := s.GetToken(ctx, "tok-1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if err := s.DeleteTokensForActivation(ctx, "act-1"); err != nil {
		t.Fatalf("delete for activation failed: %v", err)
	}
	if _, err := s.GetToken(ctx, "tok-1"); !errors.Is(err, model.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}
