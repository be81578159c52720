package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/iscc/iscc-hub-go/pkg/codec"
	"github.com/iscc/iscc-hub-go/pkg/eventstore"
)

// runExportCmd streams a sequence range of the event log as JSON lines,
// for bulk replication and offline audit.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "iscc-hub.db", "event store location")
	realm := fs.Int("realm", 0, "ISCC-ID realm (0 sandbox, 1 operational)")
	from := fs.Uint64("from", 1, "first sequence number")
	to := fs.Uint64("to", 0, "last sequence number (0 = end of log)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store, err := eventstore.Open(*dbPath, codec.Realm(*realm))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	enc := json.NewEncoder(stdout)
	next := *from
	for {
		events, err := store.Scan(ctx, next, 256)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "scan: %v\n", err)
			return 1
		}
		if len(events) == 0 {
			return 0
		}
		for _, ev := range events {
			if *to != 0 && ev.Seq > *to {
				return 0
			}
			if err := enc.Encode(ev); err != nil {
				_, _ = fmt.Fprintf(stderr, "encode: %v\n", err)
				return 1
			}
			next = ev.Seq + 1
		}
	}
}
