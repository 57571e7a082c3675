package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/kk-code-lab/recordlake/internal/crdt"
	"github.com/kk-code-lab/recordlake/internal/gc"
	"github.com/kk-code-lab/recordlake/internal/identity"
	"github.com/kk-code-lab/recordlake/internal/store"
)

type modeArgs struct {
	id      string
	owner   string
	file    string
	out     string
	peer    string
	key     string
	expires time.Duration
	jsonOut bool
}

func runMode(ctx context.Context, s *store.Store, mode string, args modeArgs) error {
	switch mode {
	case "status":
		stats, err := s.Meta().Stats(ctx)
		if err != nil {
			return err
		}
		if args.jsonOut {
			return writeJSON(stats)
		}
		fmt.Printf("records=%d envelopes=%d blobs=%d pins=%d blob_pins=%d owners=%d bytes_used=%d\n",
			stats.Records, stats.Envelopes, stats.Blobs, stats.Pins, stats.BlobPins, stats.Owners, stats.BytesUsed)
		return nil

	case "gc-run":
		report, err := gc.New(s, nil).Run(ctx)
		if err != nil {
			return err
		}
		if args.jsonOut {
			return writeJSON(report)
		}
		fmt.Printf("expired_pins=%d removed_records=%d extended_blob_pins=%d dropped_blob_pins=%d removed_blobs=%d\n",
			report.ExpiredPins, report.RemovedRecords, report.ExtendedBlobPins, report.DroppedBlobPins, report.RemovedBlobs)
		return nil

	case "record-create":
		if args.owner == "" {
			return fmt.Errorf("record-create requires -owner")
		}
		nonce := store.NewNonce()
		id, err := s.CreateRecord(ctx, args.owner, nonce, crdt.NewDocument())
		if err != nil {
			return err
		}
		if args.jsonOut {
			return writeJSON(map[string]string{"record_id": id, "nonce": nonce})
		}
		fmt.Printf("record=%s nonce=%s\n", id, nonce)
		return nil

	case "record-get":
		if args.id == "" {
			return fmt.Errorf("record-get requires -id")
		}
		rec, doc, err := s.GetRecord(ctx, args.id)
		if err != nil {
			return err
		}
		vv, err := crdt.DecodeVersion(rec.Version)
		if err != nil {
			return err
		}
		summary := map[string]any{
			"record_id": rec.ID,
			"creator":   rec.Creator,
			"owner":     rec.Owner,
			"created":   rec.Created,
			"size":      rec.Size,
			"version":   vv,
			"lamport":   doc.Lamport(),
		}
		if args.jsonOut {
			return writeJSON(summary)
		}
		fmt.Printf("record=%s creator=%s owner=%s size=%d created=%s\n",
			rec.ID, rec.Creator, rec.Owner, rec.Size, rec.Created)
		return nil

	case "record-delete":
		if args.id == "" {
			return fmt.Errorf("record-delete requires -id")
		}
		return s.DeleteRecord(ctx, args.id)

	case "envelope-put":
		if args.id == "" || args.file == "" {
			return fmt.Errorf("envelope-put requires -id and -file")
		}
		raw, err := os.ReadFile(args.file)
		if err != nil {
			return err
		}
		return s.StoreEnvelope(ctx, args.id, raw)

	case "blob-put":
		if args.owner == "" || args.file == "" {
			return fmt.Errorf("blob-put requires -owner and -file")
		}
		data, err := os.ReadFile(args.file)
		if err != nil {
			return err
		}
		id, err := s.StoreBlob(ctx, args.owner, data)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case "blob-remove":
		if args.id == "" || args.owner == "" {
			return fmt.Errorf("blob-remove requires -id and -owner")
		}
		return s.RemoveBlob(ctx, args.id, args.owner)

	case "blob-get":
		if args.id == "" {
			return fmt.Errorf("blob-get requires -id")
		}
		data, err := s.GetBlob(ctx, args.id)
		if err != nil {
			return err
		}
		if args.out == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		return os.WriteFile(args.out, data, 0o644)

	case "pin-record", "pin-blob":
		if args.id == "" || args.owner == "" {
			return fmt.Errorf("%s requires -id and -owner", mode)
		}
		var exp *time.Time
		if args.expires > 0 {
			t := time.Now().UTC().Add(args.expires)
			exp = &t
		}
		if mode == "pin-record" {
			return s.PinRecord(ctx, args.id, args.owner, exp)
		}
		return s.PinBlob(ctx, args.id, args.owner, exp)

	case "unpin-record":
		if args.id == "" || args.owner == "" {
			return fmt.Errorf("unpin-record requires -id and -owner")
		}
		return s.UnpinRecord(ctx, args.id, args.owner)

	case "unpin-blob":
		if args.id == "" || args.owner == "" {
			return fmt.Errorf("unpin-blob requires -id and -owner")
		}
		return s.UnpinBlob(ctx, args.id, args.owner)

	case "peer-add":
		if args.id == "" || args.owner == "" || args.peer == "" {
			return fmt.Errorf("peer-add requires -id, -owner and -peer")
		}
		return s.AddSyncPeer(ctx, args.id, args.owner, args.peer)

	case "peer-remove":
		if args.id == "" || args.owner == "" || args.peer == "" {
			return fmt.Errorf("peer-remove requires -id, -owner and -peer")
		}
		return s.RemoveSyncPeer(ctx, args.id, args.owner, args.peer)

	case "peer-list":
		if args.id == "" || args.owner == "" {
			return fmt.Errorf("peer-list requires -id and -owner")
		}
		peers, err := s.ListSyncPeers(ctx, args.id, args.owner)
		if err != nil {
			return err
		}
		if args.jsonOut {
			return writeJSON(peers)
		}
		for _, p := range peers {
			fmt.Println(p)
		}
		return nil

	case "key-set":
		if args.owner == "" || args.key == "" {
			return fmt.Errorf("key-set requires -owner and -key")
		}
		raw, err := hex.DecodeString(args.key)
		if err != nil {
			return fmt.Errorf("decode key: %w", err)
		}
		return s.SetSigningKey(ctx, args.owner, raw)

	case "key-get":
		if args.owner == "" {
			return fmt.Errorf("key-get requires -owner")
		}
		raw, err := s.GetSigningKey(ctx, args.owner)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(raw))
		return nil

	case "key-remove":
		if args.owner == "" {
			return fmt.Errorf("key-remove requires -owner")
		}
		return s.RemoveSigningKey(ctx, args.owner)

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func runKeygen(jsonOut bool) error {
	id, priv, err := identity.Generate()
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(map[string]string{
			"identity":    id,
			"private_key": hex.EncodeToString(priv),
		})
	}
	fmt.Printf("identity=%s\n", id)
	fmt.Printf("private_key=%s\n", hex.EncodeToString(priv))
	return nil
}
