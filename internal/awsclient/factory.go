// Package awsclient lazily provisions and memoizes one AWS client per
// (service, region) pair for the duration of a scan.
package awsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/cloudvigil/cloudvigil/internal/awsauth"
)

// GlobalRegion is the signing region for global services.
const GlobalRegion = "us-east-1"

// Factory resolves credentials once and hands out memoized service clients.
// A scan that touches 10+ regions and 20+ services still constructs at most
// one client per (service, region), bounding connection overhead. Scoped to
// one scan; do not share a factory across accounts.
type Factory struct {
	credential awsauth.StoredCredential
	resolver   *awsauth.Resolver

	mu      sync.Mutex
	clients map[string]interface{}
}

// NewFactory creates a factory for one scan over one stored credential.
func NewFactory(credential awsauth.StoredCredential) *Factory {
	return &Factory{
		credential: credential,
		resolver:   awsauth.NewResolver(),
		clients:    make(map[string]interface{}),
	}
}

// NewFactoryWithResolver injects a resolver, for tests.
func NewFactoryWithResolver(credential awsauth.StoredCredential, resolver *awsauth.Resolver) *Factory {
	return &Factory{
		credential: credential,
		resolver:   resolver,
		clients:    make(map[string]interface{}),
	}
}

// GetClient returns the memoized client for (service, region), constructing
// it on first use. Global services collapse onto a single service:global
// entry. Credential resolution happens at most once per factory; a
// resolution failure is fatal for the scan and surfaces here.
func (f *Factory) GetClient(ctx context.Context, service Service, region string) (interface{}, error) {
	construct, ok := constructors[service]
	if !ok {
		return nil, fmt.Errorf("unsupported service %q", service)
	}

	key := string(service) + ":" + region
	clientRegion := region
	if service.IsGlobal() {
		key = string(service) + ":global"
		clientRegion = GlobalRegion
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[key]; ok {
		return client, nil
	}

	// Resolution runs against the caller's region, not the global signing
	// region, so a role scoped to another partition's regional STS endpoint
	// still assumes even when the first touched service is global.
	resolved, err := f.resolver.Resolve(ctx, f.credential, region)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials for %s: %w", key, err)
	}

	client := construct(aws.Config{
		Region:      clientRegion,
		Credentials: resolved.Provider(),
	})
	f.clients[key] = client
	return client, nil
}

// Client is the typed accessor over the generic factory method.
func Client[T any](ctx context.Context, f *Factory, service Service, region string) (T, error) {
	var zero T
	raw, err := f.GetClient(ctx, service, region)
	if err != nil {
		return zero, err
	}
	client, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("client for %s is %T, not %T", service, raw, zero)
	}
	return client, nil
}

// ClientCount returns how many distinct clients have been constructed.
func (f *Factory) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ClearClients drops every memoized client and the cached credential, so
// the factory can be reused for a fresh scan.
func (f *Factory) ClearClients() {
	f.mu.Lock()
	f.clients = make(map[string]interface{})
	f.mu.Unlock()
	f.resolver.Reset()
}
