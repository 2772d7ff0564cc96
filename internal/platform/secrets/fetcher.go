// Package secrets resolves secret:// references against Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound indicates the referenced secret or version does not exist.
var ErrNotFound = errors.New("secrets: not found")

var clientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references with in-process caching. References take
// the form secret://projects/<project>/secrets/<name>/versions/<version> or a
// bare secret://<name>, which is expanded against the default project at the
// latest version.
type Fetcher struct {
	client         secretManagerClient
	ownsClient     bool
	logger         *zap.Logger
	defaultProject string

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClient injects a preconfigured Secret Manager client, primarily for tests.
func WithClient(client secretManagerClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher constructs a Fetcher for the given default project. A Secret
// Manager client is created unless one is injected via WithClient.
func NewFetcher(ctx context.Context, defaultProject string, opts ...Option) (*Fetcher, error) {
	fetcher := &Fetcher{
		logger:         zap.NewNop(),
		defaultProject: strings.TrimSpace(defaultProject),
		cache:          make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(fetcher)
	}

	if fetcher.client == nil {
		client, err := clientFactory(ctx)
		if err != nil {
			return nil, fmt.Errorf("secrets: creating client: %w", err)
		}
		fetcher.client = client
		fetcher.ownsClient = true
	}
	return fetcher, nil
}

// ResolveSecret fetches the payload for the given reference, caching results
// for the lifetime of the process. Pinned versions never change, and latest
// is only read at startup, so no TTL is applied.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, err := f.canonicalName(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	entry, ok := f.cache[name]
	f.mu.RUnlock()
	if ok {
		return entry.value, nil
	}

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("secrets: accessing %s: %w", name, err)
	}
	value := strings.TrimSpace(string(resp.GetPayload().GetData()))

	f.mu.Lock()
	f.cache[name] = cacheEntry{value: value, fetchedAt: time.Now()}
	f.mu.Unlock()

	f.logger.Debug("secret resolved", zap.String("name", name))
	return value, nil
}

// Close releases the underlying client when the fetcher created it.
func (f *Fetcher) Close() error {
	if !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

func (f *Fetcher) canonicalName(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	trimmed = strings.TrimPrefix(trimmed, "secret://")
	trimmed = strings.TrimPrefix(trimmed, "sm://")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", errors.New("secrets: empty reference")
	}

	if strings.HasPrefix(trimmed, "projects/") {
		if !strings.Contains(trimmed, "/versions/") {
			trimmed += "/versions/latest"
		}
		return trimmed, nil
	}

	if f.defaultProject == "" {
		return "", fmt.Errorf("secrets: no default project for short reference %q", ref)
	}
	name := trimmed
	version := "latest"
	if idx := strings.Index(trimmed, "@"); idx >= 0 {
		name = trimmed[:idx]
		version = trimmed[idx+1:]
	}
	if name == "" || version == "" {
		return "", fmt.Errorf("secrets: malformed reference %q", ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.defaultProject, name, version), nil
}
