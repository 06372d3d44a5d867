// Package storage holds submitted source blobs, keyed by job.
package storage

import "context"

type Storage interface {
	Upload(ctx context.Context, objectPath string, data []byte) error
	Download(ctx context.Context, objectPath string) ([]byte, error)
	ShutDown(ctx context.Context)
}
