// Package archive writes raw portal pages to blob storage under
// content-addressed paths so repeated captures of the same page collapse.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// ContentType is the MIME type recorded for archived pages.
const ContentType = "text/html; charset=utf-8"

// Config controls archive layout.
type Config struct {
	Prefix  string `mapstructure:"prefix"`
	Success bool   `mapstructure:"archive_success"`
}

// Archiver stores raw pages in a BlobStore.
type Archiver struct {
	blobs results.BlobStore
	cfg   Config
}

// New constructs an Archiver. A nil BlobStore yields a nil Archiver, which
// archives nothing.
func New(blobs results.BlobStore, cfg Config) *Archiver {
	if blobs == nil {
		return nil
	}
	return &Archiver{blobs: blobs, cfg: cfg}
}

// Hash returns the hex SHA-256 digest of body.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Path builds <prefix>/<exam>/<identifier>/<hash>.html.
func (a *Archiver) Path(examCode, identifier string, body []byte) string {
	name := fmt.Sprintf("%s/%s/%s.html", examCode, identifier, Hash(body))
	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Incomplete archives a page that looked like a result but failed to parse.
func (a *Archiver) Incomplete(ctx context.Context, examCode, identifier string, body []byte) (string, error) {
	if a == nil || len(body) == 0 {
		return "", nil
	}
	return a.put(ctx, examCode, identifier, body)
}

// Success archives a successfully parsed page when success archiving is on.
func (a *Archiver) Success(ctx context.Context, examCode, identifier string, body []byte) (string, error) {
	if a == nil || !a.cfg.Success || len(body) == 0 {
		return "", nil
	}
	return a.put(ctx, examCode, identifier, body)
}

func (a *Archiver) put(ctx context.Context, examCode, identifier string, body []byte) (string, error) {
	uri, err := a.blobs.PutObject(ctx, a.Path(examCode, identifier, body), ContentType, body)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", identifier, err)
	}
	return uri, nil
}
