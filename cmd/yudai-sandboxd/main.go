package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/yudai-dev/yudai/internal/adapters/local"
	"github.com/yudai-dev/yudai/internal/adapters/sandbox"
)

func main() {
	listenAddr := os.Getenv("YUDAI_SANDBOX_LISTEN")
	if listenAddr == "" {
		listenAddr = "unix:///tmp/yudai-sandbox.sock"
	}

	timeout := 30 * time.Second
	if v := os.Getenv("YUDAI_SANDBOX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid YUDAI_SANDBOX_TIMEOUT: %v\n", err)
			os.Exit(1)
		}
		timeout = d
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	env := local.New(local.Config{
		Cwd:     os.Getenv("YUDAI_SANDBOX_CWD"),
		Timeout: timeout,
		Shell:   os.Getenv("YUDAI_SANDBOX_SHELL"),
	})

	grpcServer := grpc.NewServer()
	sandbox.Register(grpcServer, sandbox.NewServer(env, logger))

	lis, err := listen(listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen on %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		grpcServer.GracefulStop()
	}()

	logger.Info("yudai-sandboxd listening", "addr", listenAddr, "timeout", timeout)
	if err := grpcServer.Serve(lis); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func listen(addr string) (net.Listener, error) {
	if sockPath, ok := strings.CutPrefix(addr, "unix://"); ok {
		os.Remove(sockPath)
		return net.Listen("unix", sockPath)
	}
	return net.Listen("tcp", addr)
}
