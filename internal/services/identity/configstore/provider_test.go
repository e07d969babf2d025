package configstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/singlesignon/identity/internal/services/identity/storage"
	"github.com/singlesignon/identity/internal/services/identity/storage/sqlite"
)

type countingStore struct {
	storage.ClientStore

	getCalls int
}

func (c *countingStore) GetClient(ctx context.Context, clientID string) (storage.Client, error) {
	c.getCalls++
	return c.ClientStore.GetClient(ctx, clientID)
}

func openProvider(t *testing.T) (*Provider, *countingStore) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	counting := &countingStore{ClientStore: store}
	return New(counting), counting
}

func TestLookupClientCachesReads(t *testing.T) {
	provider, counting := openProvider(t)
	ctx := context.Background()

	client := storage.Client{ID: "client-1", Name: "Dashboard", RedirectURIs: []string{"https://app.example.com/cb"}}
	if err := provider.RegisterClient(ctx, client, "s3cret"); err != nil {
		t.Fatalf("register client: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := provider.LookupClient(ctx, "client-1")
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if got.Name != "Dashboard" {
			t.Fatalf("unexpected client: %+v", got)
		}
	}
	if counting.getCalls != 1 {
		t.Fatalf("expected one store read, got %d", counting.getCalls)
	}
}

func TestLookupClientUnknown(t *testing.T) {
	provider, _ := openProvider(t)

	if _, err := provider.LookupClient(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidateSecret(t *testing.T) {
	provider, _ := openProvider(t)
	ctx := context.Background()

	if err := provider.RegisterClient(ctx, storage.Client{ID: "client-1"}, "correct horse"); err != nil {
		t.Fatalf("register client: %v", err)
	}

	if err := provider.ValidateSecret(ctx, "client-1", "correct horse"); err != nil {
		t.Fatalf("expected secret accepted: %v", err)
	}
	if err := provider.ValidateSecret(ctx, "client-1", "wrong"); err == nil {
		t.Fatal("expected wrong secret rejected")
	}
}

func TestValidateSecretUnknownClientSameError(t *testing.T) {
	provider, _ := openProvider(t)
	ctx := context.Background()

	if err := provider.RegisterClient(ctx, storage.Client{ID: "client-1"}, "s3cret"); err != nil {
		t.Fatalf("register client: %v", err)
	}

	wrongSecret := provider.ValidateSecret(ctx, "client-1", "wrong")
	unknownClient := provider.ValidateSecret(ctx, "missing", "anything")
	if wrongSecret == nil || unknownClient == nil {
		t.Fatal("expected both validations to fail")
	}
	if wrongSecret.Error() != unknownClient.Error() {
		t.Fatalf("unknown client must be indistinguishable from wrong secret: %q vs %q",
			wrongSecret, unknownClient)
	}
}

func TestRegisterClientRefreshesCache(t *testing.T) {
	provider, _ := openProvider(t)
	ctx := context.Background()

	if err := provider.RegisterClient(ctx, storage.Client{ID: "client-1", Name: "Before"}, "s3cret"); err != nil {
		t.Fatalf("register client: %v", err)
	}
	if _, err := provider.LookupClient(ctx, "client-1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	if err := provider.RegisterClient(ctx, storage.Client{ID: "client-1", Name: "After"}, "s3cret"); err != nil {
		t.Fatalf("re-register client: %v", err)
	}
	got, err := provider.LookupClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("lookup after re-register: %v", err)
	}
	if got.Name != "After" {
		t.Fatalf("expected updated name, got %q", got.Name)
	}
}

func TestRegisterClientValidates(t *testing.T) {
	provider, _ := openProvider(t)
	ctx := context.Background()

	if err := provider.RegisterClient(ctx, storage.Client{}, "s3cret"); err == nil {
		t.Fatal("expected error for empty client id")
	}
	if err := provider.RegisterClient(ctx, storage.Client{ID: "client-1"}, ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestInvalidateDropsStaleEntry(t *testing.T) {
	provider, counting := openProvider(t)
	ctx := context.Background()

	if err := provider.RegisterClient(ctx, storage.Client{ID: "client-1"}, "s3cret"); err != nil {
		t.Fatalf("register client: %v", err)
	}
	if _, err := provider.LookupClient(ctx, "client-1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	reads := counting.getCalls

	provider.Invalidate("client-1")
	if _, err := provider.LookupClient(ctx, "client-1"); err != nil {
		t.Fatalf("lookup after invalidate: %v", err)
	}
	if counting.getCalls != reads+1 {
		t.Fatalf("expected a fresh store read after invalidation, got %d", counting.getCalls)
	}
}

func TestLookupResources(t *testing.T) {
	provider, _ := openProvider(t)
	ctx := context.Background()

	if err := provider.RegisterResource(ctx, storage.Resource{Name: "billing-api", Scopes: []string{"billing.read"}}); err != nil {
		t.Fatalf("register resource: %v", err)
	}

	matched, err := provider.LookupResources(ctx, []string{"billing.read"})
	if err != nil {
		t.Fatalf("lookup resources: %v", err)
	}
	if len(matched) != 1 || matched[0].Name != "billing-api" {
		t.Fatalf("unexpected resources: %+v", matched)
	}
}
