// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metricsstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
)

var _ Archiver = (*GCSArchiver)(nil)

// GCSArchiver uploads rotated-out JSONL mirror files to a GCS bucket
// before they are pruned from local disk, giving the append-only audit
// trail retention beyond MaxRotatedFiles.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchiver builds an archiver against bucket, storing objects under
// prefix (e.g. "dcsentinel/metrics-jsonl/").
func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("build gcs client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// Archive uploads localPath's contents under a timestamped object name.
func (a *GCSArchiver) Archive(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open archive source %s: %w", localPath, err)
	}
	defer f.Close()

	objectName := fmt.Sprintf("%s%s-%d%s", a.prefix, filepath.Base(localPath), time.Now().UnixNano(), filepath.Ext(localPath))
	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload archive %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize archive upload %s: %w", objectName, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
