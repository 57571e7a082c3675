package meta

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "meta.db"), 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestInsertGetRecord(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()

	rec := Record{ID: "r1", Creator: "did:rl:aa", Nonce: "n1", Created: ts(testNow()), Owner: "did:rl:aa", Version: []byte{1}, Size: 100}
	if err := store.InsertRecord(ctx, rec, testNow()); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	got, err := store.GetRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Owner != "did:rl:aa" || got.Size != 100 {
		t.Fatalf("record mismatch: %+v", got)
	}
	if err := store.InsertRecord(ctx, rec, testNow()); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("expected ErrRecordExists, got %v", err)
	}
	if _, err := store.GetRecord(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuotaReserveRelease(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()

	rec := Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa", Size: 1 << 19}
	if err := store.InsertRecord(ctx, rec, testNow()); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 1<<19 {
		t.Fatalf("bytes used mismatch: %d", q.BytesUsed)
	}

	big := Record{ID: "r2", Creator: "did:rl:aa", Owner: "did:rl:aa", Size: 1 << 20}
	if err := store.InsertRecord(ctx, big, testNow()); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// failed insert must not leave a partial charge
	q, err = store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 1<<19 {
		t.Fatalf("bytes used after failed insert: %d", q.BytesUsed)
	}

	if _, err := store.DeleteRecord(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	q, err = store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 0 {
		t.Fatalf("bytes used after delete: %d", q.BytesUsed)
	}
}

func TestCommitEnvelopeFirst(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	c := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000001-0000000000",
		Author:     "did:rl:aa",
		ToVersion:  []byte{2},
		Raw:        []byte("envelope"),
		Size:       64,
		First:      true,
		Record:     &Record{ID: "r1", Creator: "did:rl:aa", Nonce: "n1", Created: ts(now), Owner: "did:rl:aa"},
		NewVersion: []byte{2},
		ReadIndex:  []string{"did:rl:aa", "did:rl:bb"},
		RefDeps:    []string{"blob1"},
	}
	if err := store.CommitEnvelope(ctx, c, now); err != nil {
		t.Fatalf("CommitEnvelope: %v", err)
	}

	rec, err := store.GetRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Size != 64 {
		t.Fatalf("size mismatch: %d", rec.Size)
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 64 {
		t.Fatalf("creator not charged: %d", q.BytesUsed)
	}
	pins, err := store.RecordPins(ctx, "r1")
	if err != nil {
		t.Fatalf("RecordPins: %v", err)
	}
	if len(pins) != 1 || pins[0].Owner != "did:rl:aa" || pins[0].Expires.Valid {
		t.Fatalf("expected indefinite creator pin, got %+v", pins)
	}
	idx, err := store.ReadIndex(ctx, "r1")
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(idx) != 2 {
		t.Fatalf("read index mismatch: %v", idx)
	}
	deps, err := store.RecordDeps(ctx, "r1", DepRef)
	if err != nil {
		t.Fatalf("RecordDeps: %v", err)
	}
	if len(deps) != 1 || deps[0] != "blob1" {
		t.Fatalf("deps mismatch: %v", deps)
	}
}

func TestCommitEnvelopeChargesPinner(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	first := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000001-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e1"),
		Size:       10,
		First:      true,
		Record:     &Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa"},
		NewVersion: []byte{1},
	}
	if err := store.CommitEnvelope(ctx, first, now); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	second := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000002-0000000000",
		Author:     "did:rl:bb",
		Raw:        []byte("e2"),
		Size:       20,
		OldVersion: []byte{1},
		NewVersion: []byte{2},
	}
	if err := store.CommitEnvelope(ctx, second, now); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	envs, err := store.ListEnvelopes(ctx, "r1")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envs))
	}
	if envs[1].QuotaOwner != "did:rl:aa" {
		t.Fatalf("second envelope charged %s", envs[1].QuotaOwner)
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 30 {
		t.Fatalf("pinner charge mismatch: %d", q.BytesUsed)
	}
	rec, err := store.GetRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Size != 30 {
		t.Fatalf("record size mismatch: %d", rec.Size)
	}
}

func TestCommitEnvelopeStaleVersionRejected(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	first := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000001-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e1"),
		Size:       10,
		First:      true,
		Record:     &Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa"},
		NewVersion: []byte{1},
	}
	if err := store.CommitEnvelope(ctx, first, now); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// a commit built on a frontier another writer already advanced past
	// must not land or leave a charge behind
	stale := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000002-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e2"),
		Size:       20,
		OldVersion: []byte{9},
		NewVersion: []byte{2},
	}
	if err := store.CommitEnvelope(ctx, stale, now); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	envs, err := store.ListEnvelopes(ctx, "r1")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("stale envelope stored: %d", len(envs))
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 10 {
		t.Fatalf("stale commit left charge: %d", q.BytesUsed)
	}
	rec, err := store.GetRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if len(rec.Version) != 1 || rec.Version[0] != 1 {
		t.Fatalf("record version moved: %v", rec.Version)
	}
}

func TestCommitEnvelopeUnpinnedRejected(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	first := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000001-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e1"),
		Size:       10,
		First:      true,
		Record:     &Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa"},
		NewVersion: []byte{1},
	}
	if err := store.CommitEnvelope(ctx, first, now); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := store.UnpinRecord(ctx, "r1", "did:rl:aa"); err != nil {
		t.Fatalf("UnpinRecord: %v", err)
	}

	second := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000002-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e2"),
		Size:       20,
		OldVersion: []byte{1},
		NewVersion: []byte{2},
	}
	if err := store.CommitEnvelope(ctx, second, now); !errors.Is(err, ErrNotPinned) {
		t.Fatalf("expected ErrNotPinned, got %v", err)
	}
}

func TestMaxStoreOrder(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	stamp, err := store.MaxStoreOrder(ctx)
	if err != nil {
		t.Fatalf("MaxStoreOrder: %v", err)
	}
	if stamp != "" {
		t.Fatalf("expected empty stamp, got %q", stamp)
	}

	first := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000001-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e1"),
		Size:       10,
		First:      true,
		Record:     &Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa"},
		NewVersion: []byte{1},
	}
	if err := store.CommitEnvelope(ctx, first, now); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	second := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000002-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e2"),
		Size:       20,
		OldVersion: []byte{1},
		NewVersion: []byte{2},
	}
	if err := store.CommitEnvelope(ctx, second, now); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	stamp, err = store.MaxStoreOrder(ctx)
	if err != nil {
		t.Fatalf("MaxStoreOrder: %v", err)
	}
	if stamp != second.StoreOrder {
		t.Fatalf("stamp mismatch: %q", stamp)
	}
}

func TestDeleteRecordReleasesAllCharges(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	first := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000001-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e1"),
		Size:       10,
		First:      true,
		Record:     &Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa"},
		NewVersion: []byte{1},
	}
	if err := store.CommitEnvelope(ctx, first, now); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	exp := now.Add(time.Hour)
	if err := store.PinRecord(ctx, "r1", "did:rl:bb", &exp, now); err != nil {
		t.Fatalf("PinRecord: %v", err)
	}
	second := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000002-0000000000",
		Author:     "did:rl:bb",
		Raw:        []byte("e2"),
		Size:       20,
		OldVersion: []byte{1},
		NewVersion: []byte{2},
	}
	if err := store.CommitEnvelope(ctx, second, now); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	size, err := store.DeleteRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if size != 30 {
		t.Fatalf("reclaimed size mismatch: %d", size)
	}
	for _, owner := range []string{"did:rl:aa", "did:rl:bb"} {
		q, err := store.GetQuota(ctx, owner)
		if err != nil {
			t.Fatalf("GetQuota %s: %v", owner, err)
		}
		if q.BytesUsed != 0 {
			t.Fatalf("%s still charged %d", owner, q.BytesUsed)
		}
	}
	if _, err := store.GetRecord(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	envs, err := store.ListEnvelopes(ctx, "r1")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("envelopes survived delete: %d", len(envs))
	}
}

func TestBlobUploadAndLink(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	var sawExists bool
	ensure := func(exists bool) error { sawExists = exists; return nil }
	if err := store.AddBlobRef(ctx, "b1", "did:rl:aa", 256, now, ensure); err != nil {
		t.Fatalf("AddBlobRef: %v", err)
	}
	if sawExists {
		t.Fatalf("first upload reported existing blob")
	}
	if err := store.AddBlobRef(ctx, "b1", "did:rl:bb", 256, now, ensure); err != nil {
		t.Fatalf("AddBlobRef second owner: %v", err)
	}
	if !sawExists {
		t.Fatalf("second upload did not report existing blob")
	}
	// a repeat upload of the same bytes by the same owner is free
	if err := store.AddBlobRef(ctx, "b1", "did:rl:aa", 256, now, ensure); err != nil {
		t.Fatalf("AddBlobRef re-upload: %v", err)
	}
	b, err := store.GetBlob(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if b.Refs != 2 || b.Size != 256 {
		t.Fatalf("blob row mismatch: %+v", b)
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 256 {
		t.Fatalf("upload charge mismatch: %d", q.BytesUsed)
	}

	rec := Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa", Size: 1}
	if err := store.InsertRecord(ctx, rec, testNow()); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := store.LinkBlobToRecord(ctx, "r1", "b1", "did:rl:aa"); err != nil {
		t.Fatalf("LinkBlobToRecord: %v", err)
	}
	if err := store.LinkBlobToRecord(ctx, "r1", "b1", "did:rl:cc"); !errors.Is(err, ErrNotUploaded) {
		t.Fatalf("expected ErrNotUploaded, got %v", err)
	}
	blobs, err := store.ListRecordBlobs(ctx, "r1")
	if err != nil {
		t.Fatalf("ListRecordBlobs: %v", err)
	}
	if len(blobs) != 1 || blobs[0] != "b1" {
		t.Fatalf("record blobs mismatch: %v", blobs)
	}
}

func TestRemoveBlobUpload(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	for i := 0; i < 2; i++ {
		if err := store.AddBlobRef(ctx, "b1", "did:rl:aa", 100, now, nil); err != nil {
			t.Fatalf("AddBlobRef: %v", err)
		}
	}
	if err := store.AddBlobRef(ctx, "b1", "did:rl:bb", 100, now, nil); err != nil {
		t.Fatalf("AddBlobRef second owner: %v", err)
	}

	// dropping one of two uploads keeps the row and the single charge
	removeFile, err := store.RemoveBlobUpload(ctx, "b1", "did:rl:aa")
	if err != nil {
		t.Fatalf("RemoveBlobUpload: %v", err)
	}
	if removeFile {
		t.Fatalf("file removal with uploads remaining")
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 100 {
		t.Fatalf("charge changed early: %d", q.BytesUsed)
	}

	// the last upload releases the charge but the other owner retains the blob
	removeFile, err = store.RemoveBlobUpload(ctx, "b1", "did:rl:aa")
	if err != nil {
		t.Fatalf("RemoveBlobUpload last: %v", err)
	}
	if removeFile {
		t.Fatalf("file removal while another owner uploads remain")
	}
	q, err = store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 0 {
		t.Fatalf("charge not released: %d", q.BytesUsed)
	}
	if _, err := store.RemoveBlobUpload(ctx, "b1", "did:rl:aa"); !errors.Is(err, ErrNotUploaded) {
		t.Fatalf("expected ErrNotUploaded, got %v", err)
	}

	removeFile, err = store.RemoveBlobUpload(ctx, "b1", "did:rl:bb")
	if err != nil {
		t.Fatalf("RemoveBlobUpload final owner: %v", err)
	}
	if !removeFile {
		t.Fatalf("expected file removal with no owners left")
	}
	if _, err := store.GetBlob(ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blob row survived: %v", err)
	}
}

func TestRemoveBlobUploadRefusedWhileLinked(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	if err := store.AddBlobRef(ctx, "b1", "did:rl:aa", 64, now, nil); err != nil {
		t.Fatalf("AddBlobRef: %v", err)
	}
	rec := Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa", Size: 1}
	if err := store.InsertRecord(ctx, rec, now); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := store.LinkBlobToRecord(ctx, "r1", "b1", "did:rl:aa"); err != nil {
		t.Fatalf("LinkBlobToRecord: %v", err)
	}
	if _, err := store.RemoveBlobUpload(ctx, "b1", "did:rl:aa"); err == nil {
		t.Fatalf("expected refusal while linked")
	}
}

func TestBlobEnsureFileFailureAborts(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()

	boom := errors.New("disk full")
	err := store.AddBlobRef(ctx, "b1", "did:rl:aa", 256, testNow(), func(bool) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected ensure error, got %v", err)
	}
	if _, err := store.GetBlob(ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blob row survived aborted upload: %v", err)
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 0 {
		t.Fatalf("aborted upload left charge: %d", q.BytesUsed)
	}
}

func TestSweepExpiredRecordAndOrphans(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	first := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000001-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e1"),
		Size:       40,
		First:      true,
		Record:     &Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa"},
		NewVersion: []byte{1},
	}
	if err := store.CommitEnvelope(ctx, first, now); err != nil {
		t.Fatalf("commit: %v", err)
	}
	past := now.Add(-time.Hour)
	if err := store.PinRecord(ctx, "r1", "did:rl:aa", &past, now); err != nil {
		t.Fatalf("PinRecord: %v", err)
	}

	n, err := store.SweepExpiredRecordPins(ctx, now)
	if err != nil {
		t.Fatalf("SweepExpiredRecordPins: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired pin, swept %d", n)
	}
	orphans, err := store.SweepOrphanRecords(ctx)
	if err != nil {
		t.Fatalf("SweepOrphanRecords: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "r1" {
		t.Fatalf("orphans mismatch: %v", orphans)
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 0 {
		t.Fatalf("quota not returned: %d", q.BytesUsed)
	}

	// idempotent: nothing left to sweep
	orphans, err = store.SweepOrphanRecords(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("second sweep removed %v", orphans)
	}
}

func TestSweepBlobPinExtension(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	if err := store.AddBlobRef(ctx, "b1", "did:rl:aa", 16, now, nil); err != nil {
		t.Fatalf("AddBlobRef: %v", err)
	}
	first := EnvelopeCommit{
		RecordID:   "r1",
		StoreOrder: "0000000000000000001-0000000000",
		Author:     "did:rl:aa",
		Raw:        []byte("e1"),
		Size:       8,
		First:      true,
		Record:     &Record{ID: "r1", Creator: "did:rl:aa", Owner: "did:rl:aa"},
		NewVersion: []byte{1},
		RefDeps:    []string{"b1"},
	}
	if err := store.CommitEnvelope(ctx, first, now); err != nil {
		t.Fatalf("commit: %v", err)
	}
	future := now.Add(48 * time.Hour)
	if err := store.PinRecord(ctx, "r1", "did:rl:aa", &future, now); err != nil {
		t.Fatalf("PinRecord: %v", err)
	}
	past := now.Add(-time.Hour)
	if err := store.PinBlob(ctx, "b1", "did:rl:aa", &past, now); err != nil {
		t.Fatalf("PinBlob: %v", err)
	}

	extended, dropped, removed, err := store.SweepBlobPins(ctx, now)
	if err != nil {
		t.Fatalf("SweepBlobPins: %v", err)
	}
	if extended != 1 || dropped != 0 || len(removed) != 0 {
		t.Fatalf("sweep mismatch: extended=%d dropped=%d removed=%v", extended, dropped, removed)
	}
	pins, err := store.BlobPins(ctx, "b1")
	if err != nil {
		t.Fatalf("BlobPins: %v", err)
	}
	if len(pins) != 1 || !pins[0].Expires.Valid || pins[0].Expires.String != ts(future) {
		t.Fatalf("pin not extended: %+v", pins)
	}
}

func TestSweepBlobPinOrphan(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	for i := 0; i < 3; i++ {
		if err := store.AddBlobRef(ctx, "b1", "did:rl:aa", 16, now, nil); err != nil {
			t.Fatalf("AddBlobRef: %v", err)
		}
	}
	past := now.Add(-time.Hour)
	if err := store.PinBlob(ctx, "b1", "did:rl:aa", &past, now); err != nil {
		t.Fatalf("PinBlob: %v", err)
	}

	extended, dropped, removed, err := store.SweepBlobPins(ctx, now)
	if err != nil {
		t.Fatalf("SweepBlobPins: %v", err)
	}
	if extended != 0 || dropped != 1 {
		t.Fatalf("sweep mismatch: extended=%d dropped=%d", extended, dropped)
	}
	if len(removed) != 1 || removed[0] != "b1" {
		t.Fatalf("removed blobs mismatch: %v", removed)
	}
	if _, err := store.GetBlob(ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blob row survived: %v", err)
	}
	q, err := store.GetQuota(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.BytesUsed != 0 {
		t.Fatalf("upload charge not released: %d", q.BytesUsed)
	}
}

func TestSyncPeersAndSigningKeys(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()
	now := testNow()

	if err := store.AddSyncPeer(ctx, "r1", "did:rl:aa", "peer-1"); err != nil {
		t.Fatalf("AddSyncPeer: %v", err)
	}
	if err := store.AddSyncPeer(ctx, "r1", "did:rl:aa", "peer-2"); err != nil {
		t.Fatalf("AddSyncPeer: %v", err)
	}
	if err := store.SetSyncPeers(ctx, "r1", "did:rl:aa", []string{"peer-3"}); err != nil {
		t.Fatalf("SetSyncPeers: %v", err)
	}
	peers, err := store.ListSyncPeers(ctx, "r1", "did:rl:aa")
	if err != nil {
		t.Fatalf("ListSyncPeers: %v", err)
	}
	if len(peers) != 1 || peers[0] != "peer-3" {
		t.Fatalf("peers mismatch: %v", peers)
	}

	if err := store.SetSigningKey(ctx, "did:rl:aa", []byte{1, 2, 3}, now); err != nil {
		t.Fatalf("SetSigningKey: %v", err)
	}
	key, err := store.GetSigningKey(ctx, "did:rl:aa")
	if err != nil {
		t.Fatalf("GetSigningKey: %v", err)
	}
	if len(key) != 3 || key[0] != 1 {
		t.Fatalf("key mismatch: %v", key)
	}
	if err := store.RemoveSigningKey(ctx, "did:rl:aa"); err != nil {
		t.Fatalf("RemoveSigningKey: %v", err)
	}
	if _, err := store.GetSigningKey(ctx, "did:rl:aa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
