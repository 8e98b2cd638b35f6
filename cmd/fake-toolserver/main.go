// ABOUTME: Minimal fake tool server for E2E testing — serves echo and time tools over gRPC.
// ABOUTME: Usage: fake-toolserver [-addr localhost:50061] [-flaky N]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"google.golang.org/grpc"

	"github.com/2389/coven-toolpool/internal/toolserver"
)

func main() {
	addr := flag.String("addr", "localhost:50061", "gRPC listen address")
	flaky := flag.Int64("flaky", 0, "fail the first N tool invocations with Unavailable")
	flag.Parse()

	if err := run(*addr, *flaky); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, flaky int64) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv := toolserver.NewServer(logger)
	srv.Register(toolserver.Tool{
		Name:        "echo",
		Description: "echoes its text argument back",
		Handler: func(args map[string]any) (string, bool) {
			text, ok := args["text"].(string)
			if !ok {
				return "echo requires a text argument", true
			}
			return text, false
		},
	})
	srv.Register(toolserver.Tool{
		Name:        "time",
		Description: "returns the server's current time",
		Handler: func(args map[string]any) (string, bool) {
			return time.Now().Format(time.RFC3339), false
		},
	})
	if flaky > 0 {
		srv.FailNext(flaky)
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	gs := grpc.NewServer()
	srv.Attach(gs)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "fake-toolserver listening on %s (flaky=%d)\n", addr, flaky)
	return gs.Serve(lis)
}
