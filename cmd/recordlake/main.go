package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kk-code-lab/recordlake/internal/app"
	"github.com/kk-code-lab/recordlake/internal/config"
	"github.com/kk-code-lab/recordlake/internal/gc"
	"github.com/kk-code-lab/recordlake/internal/store"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	showVersionShort := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPath := flag.String("config", "", "Path to TOML config file")
	dataDir := flag.String("data-dir", "./data", "Data directory (ignored when -config is set)")
	mode := flag.String("mode", "status", "Mode: status|gc-run|gc-loop|keygen|record-create|record-get|record-delete|envelope-put|blob-put|blob-get|blob-remove|pin-record|unpin-record|pin-blob|unpin-blob|peer-add|peer-remove|peer-list|key-set|key-get|key-remove")
	id := flag.String("id", "", "Record or blob id")
	owner := flag.String("owner", "", "Owner identity")
	file := flag.String("file", "", "Input file path")
	out := flag.String("out", "", "Output file path")
	peer := flag.String("peer", "", "Sync peer address")
	key := flag.String("key", "", "Hex ed25519 public key")
	expires := flag.Duration("expires", 0, "Pin lifetime from now (0 pins forever)")
	jsonOut := flag.Bool("json", false, "Output report as JSON")
	flag.Parse()

	if *showVersion || *showVersionShort {
		fmt.Printf("recordlake %s (commit %s)\n", app.Version, app.BuildCommit)
		return
	}
	if flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "unknown arguments:", flag.Args())
		os.Exit(2)
	}

	if *mode == "keygen" {
		if err := runKeygen(*jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "keygen error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Default(*dataDir)
	if *configPath != "" {
		loaded, err := config.ReadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	s, err := store.Open(store.Options{
		DataDir:        cfg.DataDir,
		DefaultQuota:   cfg.Quota.DefaultLimit,
		MaxBlobSize:    cfg.Blobs.MaxSize,
		ResolveTimeout: cfg.ResolveTimeout(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "store open error: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx := context.Background()
	args := modeArgs{
		id:      *id,
		owner:   *owner,
		file:    *file,
		out:     *out,
		peer:    *peer,
		key:     *key,
		expires: *expires,
		jsonOut: *jsonOut,
	}
	if *mode == "gc-loop" {
		interval := cfg.GCInterval()
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		gc.New(s, nil).Loop(ctx, interval)
		return
	}
	if err := runMode(ctx, s, *mode, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s error: %v\n", *mode, err)
		os.Exit(1)
	}
}
