// Package configstore serves client and resource configuration to the token
// issuance path.
//
// Configuration changes rarely and is read on every request, so lookups are
// answered from an in-memory cache over the durable store. Registration
// writes go through the provider so the cache is invalidated in the same
// call; out-of-band writes to the store require Invalidate.
package configstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/singlesignon/identity/internal/platform/errors"
	"github.com/singlesignon/identity/internal/services/identity/storage"
)

// Provider caches client and resource configuration over a ClientStore.
type Provider struct {
	store storage.ClientStore

	mu      sync.RWMutex
	clients map[string]storage.Client
}

// New builds a provider over the given store. The cache starts empty and
// fills on demand.
func New(store storage.ClientStore) *Provider {
	return &Provider{
		store:   store,
		clients: make(map[string]storage.Client),
	}
}

// LookupClient returns the configuration for clientID, reading through the
// cache on a miss.
func (p *Provider) LookupClient(ctx context.Context, clientID string) (storage.Client, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return storage.Client{}, storage.ErrNotFound
	}

	p.mu.RLock()
	cached, ok := p.clients[clientID]
	p.mu.RUnlock()
	if ok {
		return cached, nil
	}

	client, err := p.store.GetClient(ctx, clientID)
	if err != nil {
		return storage.Client{}, err
	}

	p.mu.Lock()
	p.clients[clientID] = client
	p.mu.Unlock()
	return client, nil
}

// LookupResources returns the resources reachable through any of the given
// scopes. Resource sets are small and queries vary by scope combination, so
// this reads the store directly.
func (p *Provider) LookupResources(ctx context.Context, scopes []string) ([]storage.Resource, error) {
	return p.store.GetResourcesByScopes(ctx, scopes)
}

// ValidateSecret checks a plaintext secret against the stored hash for
// clientID. An unknown client and a wrong secret return the same error so
// callers cannot probe for registered identifiers.
func (p *Provider) ValidateSecret(ctx context.Context, clientID, secret string) error {
	client, err := p.LookupClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeClientSecretInvalid, "client credentials rejected")
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)) != nil {
		return apperrors.New(apperrors.CodeClientSecretInvalid, "client credentials rejected")
	}
	return nil
}

// RegisterClient hashes the plaintext secret, persists the client, and
// refreshes the cache entry.
func (p *Provider) RegisterClient(ctx context.Context, client storage.Client, secret string) error {
	client.ID = strings.TrimSpace(client.ID)
	if client.ID == "" {
		return apperrors.New(apperrors.CodeClientEmptyID, "client id is required")
	}
	if secret == "" {
		return apperrors.New(apperrors.CodeClientEmptySecret, "client secret is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeClientEmptySecret, "hash client secret", err)
	}
	client.SecretHash = string(hash)

	if err := p.store.PutClient(ctx, client); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.clients, client.ID)
	p.mu.Unlock()
	return nil
}

// RegisterResource persists a protected resource definition.
func (p *Provider) RegisterResource(ctx context.Context, resource storage.Resource) error {
	return p.store.PutResource(ctx, resource)
}

// Invalidate drops the cached entry for clientID, or the whole cache when
// clientID is empty. Call after out-of-band store writes.
func (p *Provider) Invalidate(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if clientID == "" {
		p.clients = make(map[string]storage.Client)
		return
	}
	delete(p.clients, clientID)
}
