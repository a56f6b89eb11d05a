// Package tenant maps source URLs onto isolated knowledge-base handles.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

const collectionPrefix = "kb_"

// CollectionEnsurer creates backing storage for a collection when missing.
type CollectionEnsurer interface {
	EnsureCollection(ctx context.Context, collection string) error
}

type Resolver struct {
	store CollectionEnsurer
}

func NewResolver(store CollectionEnsurer) *Resolver {
	return &Resolver{store: store}
}

// Resolve never reports a missing tenant: an unknown URL yields a valid,
// empty handle and emptiness is detected by retrieval.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*model.Tenant, error) {
	key, err := Normalize(rawURL)
	if err != nil {
		return nil, err
	}
	t := &model.Tenant{
		Key:        key,
		SourceURL:  strings.TrimSpace(rawURL),
		Collection: CollectionName(key),
	}
	if r.store != nil {
		if err := r.store.EnsureCollection(ctx, t.Collection); err != nil {
			logutil.GetLogger(ctx).Error("ensure collection failed",
				zap.String("tenant", key), zap.String("collection", t.Collection), zap.Error(err))
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
	}
	return t, nil
}

// CollectionName derives a stable storage name from a normalized key.
func CollectionName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return collectionPrefix + hex.EncodeToString(sum[:])[:16]
}

// Normalize canonicalizes a source URL so that cosmetic variants (case of
// scheme/host, default port, trailing slash, ".git" suffix, query, fragment)
// map onto the same tenant.
func Normalize(rawURL string) (string, error) {
	return normalize(rawURL, false)
}

// PageIdentifier normalizes like Normalize but keeps the query string,
// which often selects the document on dynamic sites.
func PageIdentifier(rawURL string) (string, error) {
	return normalize(rawURL, true)
}

func normalize(rawURL string, keepQuery bool) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", fmt.Errorf("empty url: %w", appErr.ErrInvalid)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, appErr.ErrInvalid)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host: %w", rawURL, appErr.ErrInvalid)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(host, port)
	}
	path := u.EscapedPath()
	for {
		trimmed := strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
		if trimmed == path {
			break
		}
		path = trimmed
	}
	out := scheme + "://" + host + path
	if keepQuery && u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
