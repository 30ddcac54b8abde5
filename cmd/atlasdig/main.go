// atlasdig resolves a name iteratively from the root and prints the
// records it finds, together with the DNSSEC verdict when trust
// anchors are configured.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlasdns/atlas/packet"
	"github.com/atlasdns/atlas/resolver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("lookup failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		qtypeName = flag.String("type", "A", "record type to query")
		hintsPath = flag.String("hints", "", "YAML hint store with root servers and trust anchors")
		timeout   = flag.Duration("timeout", 5*time.Second, "per-query timeout")
		use0x20   = flag.Bool("0x20", false, "randomize question-name case")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("usage: atlasdig [flags] <name>")
	}
	name := flag.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	qtype := packet.QueryTypeFromString(*qtypeName)
	if qtype == packet.UNKNOWN {
		return fmt.Errorf("unknown record type %q", *qtypeName)
	}

	var hints *resolver.HintStore
	if *hintsPath != "" {
		var err error
		hints, err = resolver.LoadHintsFile(*hintsPath)
		if err != nil {
			return err
		}
	}

	res := resolver.New(resolver.Config{
		QueryTimeout:             *timeout,
		Enable0x20:               *use0x20,
		ValidateResponseIdentity: true,
		Hints:                    hints,
		Logger:                   logger,
	})

	records, verdict, err := res.ResolveSecure(ctx, name, qtype, packet.ClassINET)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Printf(";; no records for %s %s (%s)\n", name, qtype, verdict)
		return nil
	}
	for _, rec := range records {
		fmt.Println(rec.String())
	}
	fmt.Printf(";; verdict: %s\n", verdict)
	return nil
}
