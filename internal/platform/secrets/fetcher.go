// Package secrets resolves secret:// references against Google Secret
// Manager, with an in-process cache and a local key=value fallback file for
// development machines without cloud credentials.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
	meterName           = "parcelhub.api/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references. Values are cached per version for
// the process lifetime; signing keys and connection credentials do not rotate
// mid-deploy.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger

	env      string
	project  string
	fallback string

	loadOnce     sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	resolveTime metric.Float64Histogram
	cacheHits   metric.Int64Counter
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

// WithEnvironment names the deploy environment for diagnostics.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		f.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject sets the project secrets are read from unless the
// reference overrides it.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.project = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path of the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		f.fallback = strings.TrimSpace(path)
	}
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created
// (no credentials on a dev machine) the fetcher still works off the fallback
// file alone.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:   zap.NewNop(),
		env:      strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallback: defaultFallbackPath,
		cache:    make(map[string]string),
	}
	if f.env == "" {
		f.env = defaultEnvironment
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	meter := otel.GetMeterProvider().Meter(meterName)
	if hist, err := meter.Float64Histogram(
		"secret.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	); err == nil {
		f.resolveTime = hist
	} else {
		f.logger.Warn("secret duration metric unavailable", zap.Error(err))
	}
	if counter, err := meter.Int64Counter(
		"secret.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from the in-process cache"),
	); err == nil {
		f.cacheHits = counter
	} else {
		f.logger.Warn("secret cache metric unavailable", zap.Error(err))
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using fallback file only",
				zap.String("environment", f.env), zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	return f, nil
}

// Close releases the Secret Manager client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret://name[?version=N&project=ID]
// reference. Access failures that look like missing credentials or an
// unreachable backend fall back to the local file; a genuinely missing
// secret does not.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()

	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.cacheKey()

	f.mu.RLock()
	value, hit := f.cache[key]
	f.mu.RUnlock()
	if hit {
		f.countCacheHit(ctx, parsed.Name)
		f.recordDuration(ctx, start, "cache")
		return value, nil
	}

	project := parsed.Project
	if project == "" {
		project = f.project
	}

	if f.client != nil && project != "" {
		value, err := f.access(ctx, project, parsed)
		switch {
		case err == nil:
			f.store(key, value)
			f.recordDuration(ctx, start, "remote")
			return value, nil
		case !fallbackWorthy(err):
			f.recordDuration(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, err)
		}
		f.logger.Debug("secret manager unreachable, trying fallback file",
			zap.String("secret", parsed.Name), zap.Error(err))
	}

	value, ok := f.fromFallbackFile(parsed)
	if !ok {
		f.recordDuration(ctx, start, "error")
		return "", fmt.Errorf("secrets: fallback value not found for %s", parsed.Canonical)
	}
	f.store(key, value)
	f.recordDuration(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.Name, ref.Version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) fromFallbackFile(ref reference) (string, bool) {
	f.loadOnce.Do(f.loadFallbackFile)
	if f.fallbackErr != nil {
		f.logger.Debug("fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallbackVals[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := f.fallbackVals[ref.Canonical]
	return value, ok
}

// loadFallbackFile reads key=value lines, where the key is a secret://
// reference (the sm:// spelling some tooling writes is accepted too). A
// missing file is not an error; an unreadable one is.
func (f *Fetcher) loadFallbackFile() {
	f.fallbackVals = map[string]string{}
	if f.fallback == "" {
		return
	}

	file, err := os.Open(f.fallback)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: unable to open fallback file %s: %w", f.fallback, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = normalizeKey(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if parsed, err := parseReference(key); err == nil {
			f.fallbackVals[parsed.Canonical] = value
			f.fallbackVals[parsed.cacheKey()] = value
		} else {
			f.fallbackVals[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: failed reading %s: %w", f.fallback, err)
	}
}

func (f *Fetcher) recordDuration(ctx context.Context, start time.Time, outcome string) {
	if f.resolveTime == nil {
		return
	}
	f.resolveTime.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (f *Fetcher) countCacheHit(ctx context.Context, name string) {
	if f.cacheHits == nil {
		return
	}
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", name)))
}

type reference struct {
	Canonical string
	Name      string
	Version   string
	Project   string
}

func (r reference) cacheKey() string {
	return r.Canonical + "#" + r.Version
}

func parseReference(ref string) (reference, error) {
	if strings.TrimSpace(ref) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = defaultVersion
	}

	return reference{
		Canonical: canonical.String(),
		Name:      name,
		Version:   version,
		Project:   strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if rest, ok := strings.CutPrefix(key, "sm://"); ok {
		return "secret://" + rest
	}
	return key
}

// fallbackWorthy reports whether the access failure indicates missing
// credentials or an unreachable backend rather than a missing secret.
func fallbackWorthy(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
