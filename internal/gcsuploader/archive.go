// Package gcsuploader keeps raw notification emails and generated reports in
// a Cloud Storage bucket.
package gcsuploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/dvloznov/settlement-ledger/internal/domain"
)

const (
	rawPrefix     = "raw"
	reportsPrefix = "reports"
)

// Archiver stores raw messages as JSON, one object per message, and report
// files under a separate prefix.
type Archiver struct {
	objects ObjectStore
}

// NewArchiver creates an Archiver on top of objects.
func NewArchiver(objects ObjectStore) *Archiver {
	return &Archiver{objects: objects}
}

// RawObjectName returns raw/YYYY/MM/DD/<external id>.json, dated by the UTC
// receive time.
func RawObjectName(msg domain.RawMessage) string {
	day := msg.ReceivedAt.UTC().Format("2006/01/02")
	return path.Join(rawPrefix, day, sanitizeName(msg.ExternalID)+".json")
}

// ArchiveRawMessage uploads msg and returns its gs:// URI. Re-archiving the
// same message overwrites the object with identical content.
func (a *Archiver) ArchiveRawMessage(ctx context.Context, msg domain.RawMessage) (string, error) {
	if msg.ExternalID == "" {
		return "", fmt.Errorf("ArchiveRawMessage: external id is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("ArchiveRawMessage: marshal: %w", err)
	}

	name := RawObjectName(msg)
	if err := a.objects.Put(ctx, name, "application/json", bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("ArchiveRawMessage: %w", err)
	}
	return GCSURI(a.objects.Bucket(), name), nil
}

// LoadRawMessage reads an archived message back from its URI.
func (a *Archiver) LoadRawMessage(ctx context.Context, uri string) (domain.RawMessage, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return domain.RawMessage{}, fmt.Errorf("LoadRawMessage: %w", err)
	}
	if bucket != a.objects.Bucket() {
		return domain.RawMessage{}, fmt.Errorf("LoadRawMessage: %s is not in bucket %s", uri, a.objects.Bucket())
	}

	data, err := a.objects.Get(ctx, object)
	if err != nil {
		return domain.RawMessage{}, fmt.Errorf("LoadRawMessage: %w", err)
	}

	var msg domain.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.RawMessage{}, fmt.Errorf("LoadRawMessage: unmarshal %s: %w", uri, err)
	}
	return msg, nil
}

// UploadReport stores a generated export under reports/ and returns its URI.
func (a *Archiver) UploadReport(ctx context.Context, fileName, contentType string, data []byte) (string, error) {
	name := path.Join(reportsPrefix, sanitizeName(fileName))
	if err := a.objects.Put(ctx, name, contentType, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("UploadReport: %w", err)
	}
	return GCSURI(a.objects.Bucket(), name), nil
}

// sanitizeName keeps object names flat.
func sanitizeName(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}
