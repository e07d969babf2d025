package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/singlesignon/identity/internal/services/identity/grant"
	"github.com/singlesignon/identity/internal/services/identity/storage"
)

func TestConsentRoundTrip(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	input := grant.Consent{
		SubjectID: "subject-1",
		ClientID:  "client-1",
		Scopes:    []string{"openid", "profile"},
	}
	if err := store.UpsertConsent(context.Background(), input); err != nil {
		t.Fatalf("upsert consent: %v", err)
	}

	got, err := store.GetConsent(context.Background(), "subject-1", "client-1")
	if err != nil {
		t.Fatalf("get consent: %v", err)
	}
	if got.SubjectID != "subject-1" || got.ClientID != "client-1" {
		t.Fatalf("unexpected consent: %+v", got)
	}
	if len(got.Scopes) != 2 || got.Scopes[0] != "openid" || got.Scopes[1] != "profile" {
		t.Fatalf("unexpected scopes: %v", got.Scopes)
	}
	if got.ExpiresAt != nil {
		t.Fatal("expected indefinite consent")
	}
}

func TestConsentUpsertReplacesScopes(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	first := grant.Consent{SubjectID: "s", ClientID: "c", Scopes: []string{"openid"}}
	if err := store.UpsertConsent(context.Background(), first); err != nil {
		t.Fatalf("upsert consent: %v", err)
	}
	second := grant.Consent{SubjectID: "s", ClientID: "c", Scopes: []string{"openid", "email"}}
	if err := store.UpsertConsent(context.Background(), second); err != nil {
		t.Fatalf("upsert consent: %v", err)
	}

	got, err := store.GetConsent(context.Background(), "s", "c")
	if err != nil {
		t.Fatalf("get consent: %v", err)
	}
	if len(got.Scopes) != 2 {
		t.Fatalf("expected replaced scope set, got %v", got.Scopes)
	}
}

func TestConsentExpiredIsNotFound(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	stale := now.Add(-time.Minute)
	input := grant.Consent{SubjectID: "s", ClientID: "c", Scopes: []string{"openid"}, ExpiresAt: &stale}
	if err := store.UpsertConsent(context.Background(), input); err != nil {
		t.Fatalf("upsert consent: %v", err)
	}

	if _, err := store.GetConsent(context.Background(), "s", "c"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for expired consent, got %v", err)
	}
}

func TestConsentDeleteIdempotent(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	input := grant.Consent{SubjectID: "s", ClientID: "c", Scopes: []string{"openid"}}
	if err := store.UpsertConsent(context.Background(), input); err != nil {
		t.Fatalf("upsert consent: %v", err)
	}

	if err := store.DeleteConsent(context.Background(), "s", "c"); err != nil {
		t.Fatalf("delete consent: %v", err)
	}
	if err := store.DeleteConsent(context.Background(), "s", "c"); err != nil {
		t.Fatalf("repeat delete must not fail: %v", err)
	}
	if _, err := store.GetConsent(context.Background(), "s", "c"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDeleteExpiredConsents(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	stale := now.Add(-time.Minute)
	live := now.Add(time.Hour)
	consents := []grant.Consent{
		{SubjectID: "s1", ClientID: "c", Scopes: []string{"openid"}, ExpiresAt: &stale},
		{SubjectID: "s2", ClientID: "c", Scopes: []string{"openid"}, ExpiresAt: &stale},
		{SubjectID: "s3", ClientID: "c", Scopes: []string{"openid"}, ExpiresAt: &live},
		{SubjectID: "s4", ClientID: "c", Scopes: []string{"openid"}},
	}
	for _, c := range consents {
		if err := store.UpsertConsent(context.Background(), c); err != nil {
			t.Fatalf("upsert consent %s: %v", c.SubjectID, err)
		}
	}

	removed, err := store.DeleteExpiredConsents(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("delete expired consents: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	again, err := store.DeleteExpiredConsents(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("repeat delete expired consents: %v", err)
	}
	if again != 0 {
		t.Fatalf("repeat cleanup must find nothing, got %d", again)
	}

	if _, err := store.GetConsent(context.Background(), "s3", "c"); err != nil {
		t.Fatalf("expected live consent retained: %v", err)
	}
	if _, err := store.GetConsent(context.Background(), "s4", "c"); err != nil {
		t.Fatalf("expected indefinite consent retained: %v", err)
	}
}

func TestDeleteExpiredConsentsHonorsLimit(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	stale := now.Add(-time.Minute)
	for _, subject := range []string{"s1", "s2", "s3"} {
		c := grant.Consent{SubjectID: subject, ClientID: "c", Scopes: []string{"openid"}, ExpiresAt: &stale}
		if err := store.UpsertConsent(context.Background(), c); err != nil {
			t.Fatalf("upsert consent: %v", err)
		}
	}

	removed, err := store.DeleteExpiredConsents(context.Background(), now, 2)
	if err != nil {
		t.Fatalf("delete expired consents: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected limit of 2 honored, got %d", removed)
	}
}

func TestUpsertConsentValidates(t *testing.T) {
	store := openTempStore(t)

	err := store.UpsertConsent(context.Background(), grant.Consent{SubjectID: "s", ClientID: "c"})
	if !errors.Is(err, grant.ErrConsentEmptyScopes) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
