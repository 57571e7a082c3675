package fs

import "path/filepath"

// Layout defines the on-disk directory layout for record snapshots and blobs.
// Content files shard by the first two characters of the hex id to bound
// directory fan-out.
type Layout struct {
	Root       string
	RecordsDir string
	BlobsDir   string
}

// NewLayout builds a default layout under the given root.
func NewLayout(root string) Layout {
	return Layout{
		Root:       root,
		RecordsDir: filepath.Join(root, "records"),
		BlobsDir:   filepath.Join(root, "blobs"),
	}
}

func (l Layout) RecordPath(recordID string) string {
	return filepath.Join(l.RecordsDir, shard(recordID), recordID)
}

func (l Layout) BlobPath(blobID string) string {
	return filepath.Join(l.BlobsDir, shard(blobID), blobID)
}

func (l Layout) MetaPath() string {
	return filepath.Join(l.Root, "meta.db")
}

func shard(id string) string {
	if len(id) < 2 {
		return "00"
	}
	return id[:2]
}
