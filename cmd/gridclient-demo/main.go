// Command gridclient-demo submits one task against a grid endpoint, waits
// for it to complete, and prints the downloaded result bytes.
//
// Grounded on how the teacher's cmd/ttmesh-client/main.go sequenced a
// connection, a handshake, and one test message behind a handful of
// flags; this demo keeps that flag-driven "dial, then do one round trip"
// shape but replaces the mesh handshake with pkg/client's session-open
// and task-submission calls. -fake swaps the real gRPC dial for an
// in-memory wiretest.Fake, the same substitution every adapted package's
// tests already make, so the demo is runnable without a live server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"gridclient/pkg/client"
	"gridclient/pkg/config"
	"gridclient/pkg/logging"
	"gridclient/pkg/wire"
	"gridclient/pkg/wire/wiretest"
)

func main() {
	configPath := flag.String("config", "", "path to a gridclient YAML config file (optional)")
	endpoint := flag.String("endpoint", "", "grid endpoint host:port (overrides config)")
	fake := flag.Bool("fake", false, "use an in-memory fake grid instead of dialing -endpoint")
	payload := flag.String("payload", "hello gridclient", "payload bytes (as text) to submit as one task")
	sessionID := flag.String("session", "", "reopen an existing session instead of creating one")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline for the demo round trip")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fatalf("setup logging: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	gc, closeGC, err := dialGrid(ctx, *fake, cfg.Endpoint)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer closeGC()

	c, err := client.New(ctx, gc, client.Config{
		SessionID:           *sessionID,
		MaxParallelChannels: cfg.MaxParallelChannels,
		MaxRetries:          cfg.Retry.MaxRetries,
		RetryBaseDelay:      cfg.Retry.BaseDelay,
		ChunkSize:           cfg.ChunkSubmitSize,
	})
	if err != nil {
		fatalf("open client: %v", err)
	}
	defer c.Close()

	zap.L().Info("session open", zap.String("session_id", c.SessionID()))

	taskID, err := c.SubmitTask(ctx, []byte(*payload))
	if err != nil {
		fatalf("submit task: %v", err)
	}
	fmt.Println("submitted task:", taskID)

	if _, err := c.WaitForTasksCompletion(ctx, []string{taskID}); err != nil {
		fatalf("wait for completion: %v", err)
	}

	result, err := c.GetResult(ctx, taskID)
	if err != nil {
		fatalf("get result: %v", err)
	}
	fmt.Println("result:", string(result))
}

// dialGrid resolves a wire.GridClient from either a real dial or an
// in-memory fake pre-seeded to echo back whatever it is submitted
// (wiretest.Fake's default SubmitTasks behavior), plus its teardown.
func dialGrid(ctx context.Context, useFake bool, endpoint string) (wire.GridClient, func() error, error) {
	if useFake {
		f := wiretest.New()
		return f, func() error { return nil }, nil
	}
	gc, err := wire.Dial(ctx, endpoint)
	if err != nil {
		return nil, nil, err
	}
	return gc, gc.Close, nil
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
