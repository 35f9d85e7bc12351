package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultPresignTTL = time.Hour

// Resolver turns listing and attachment object keys into presigned GET URLs.
// References that already are absolute URLs pass through untouched.
type Resolver struct {
	bucket        string
	publicBaseURL string
	ttl           time.Duration
	client        *minio.Client
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	cache map[string]presigned
}

type presigned struct {
	url     string
	expires time.Time
}

type Options struct {
	Endpoint      string
	UseSSL        bool
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	PublicBaseURL string
	PresignTTL    time.Duration
	Logger        *slog.Logger
}

// NewResolver configures a resolver against an S3-compatible endpoint.
// Setting Region keeps presigning local: no bucket location lookup is made.
func NewResolver(opts Options) (*Resolver, error) {
	cleanEndpoint := strings.TrimSpace(opts.Endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	minioClient, err := minio.New(parseEndpoint(cleanEndpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(opts.AccessKey), strings.TrimSpace(opts.SecretKey), ""),
		Secure: opts.UseSSL,
		Region: strings.TrimSpace(opts.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	base := strings.TrimSpace(opts.PublicBaseURL)
	if base == "" {
		base = cleanEndpoint
		if !strings.Contains(base, "://") {
			scheme := "http"
			if opts.UseSSL {
				scheme = "https"
			}
			base = scheme + "://" + base
		}
	}
	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &Resolver{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		ttl:           ttl,
		client:        minioClient,
		logger:        opts.Logger,
		now:           time.Now,
		cache:         make(map[string]presigned),
	}, nil
}

// Resolve returns a displayable URL for ref. A presign failure falls back to
// the plain object URL so a cover image never blanks a conversation card.
func (r *Resolver) Resolve(ctx context.Context, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || isAbsolute(ref) {
		return ref
	}
	key := strings.Trim(ref, "/")
	now := r.now()

	r.mu.Lock()
	if hit, ok := r.cache[key]; ok && now.Before(hit.expires) {
		r.mu.Unlock()
		return hit.url
	}
	r.mu.Unlock()

	u, err := r.client.PresignedGetObject(ctx, r.bucket, key, r.ttl, url.Values{})
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("s3 presign failed", "bucket", r.bucket, "key", key, "error", err)
		}
		return r.objectURL(key)
	}
	signed := u.String()

	r.mu.Lock()
	// Reuse for half the lifetime so a cached URL is never handed out close to expiry.
	r.cache[key] = presigned{url: signed, expires: now.Add(r.ttl / 2)}
	r.mu.Unlock()
	return signed
}

func (r *Resolver) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", r.publicBaseURL, r.bucket, strings.TrimLeft(key, "/"))
}

func isAbsolute(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:")
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}
