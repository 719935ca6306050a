// Command server runs the in-memory key-value server: it binds the
// listening socket, wires it to a fresh keyspace, and runs the reactor
// until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/epokhe/keyserv/internal/reactor"
	"github.com/epokhe/keyserv/internal/store"
)

const (
	defaultPort           = 1234
	defaultThreadPoolSize = 4
	minPort               = 1024
	maxPort               = 65535
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  server [port] [thread-pool-size]\n")
	os.Exit(1)
}

func main() {
	port := defaultPort
	threadPoolSize := defaultThreadPoolSize

	args := os.Args[1:]
	if len(args) > 0 {
		p, err := strconv.Atoi(args[0])
		if err != nil || p < minPort || p > maxPort {
			fmt.Fprintf(os.Stderr, "invalid port number, use a port between %d and %d\n", minPort, maxPort)
			usage()
		}
		port = p
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "thread pool size must be greater than 0\n")
			usage()
		}
		threadPoolSize = n
	}
	// threadPoolSize is accepted for CLI compatibility but unused: every
	// keyspace mutation runs on the reactor's single dispatcher goroutine.
	_ = threadPoolSize

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("could not listen on %s: %v", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		cancel()
	}()

	ks := store.New()
	r := reactor.New(ln, ks)

	log.Printf("listening on %s", addr)
	if err := r.Run(ctx); err != nil {
		log.Fatalf("reactor exited with error: %v", err)
	}
}
