// Command seacoolerd is the seacooler storage core's HTTP front end.
// It wires a kvstore.Store to the httpapi seam and serves it as a
// long-running daemon.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seacooler/internal/httpapi"
	"seacooler/internal/kvstore"
)

func main() {
	dir := flag.String("dir", "./seacooler-data", "directory holding the store's backing files")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	key := flag.String("key", "", "AES encryption key (right-padded/truncated to 16 bytes)")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatalf("seacoolerd: failed to create data dir: %v", err)
	}

	logger := log.New(os.Stdout, "seacoolerd: ", log.LstdFlags)

	store, err := kvstore.Open(kvstore.Config{
		Dir: *dir,
		Key: []byte(*key),
	})
	if err != nil {
		log.Fatalf("seacoolerd: failed to open store: %v", err)
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: httpapi.New(store, logger),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		shutdown(srv, store, logger)
	}()

	logger.Printf("listening on %s, data dir %s", *addr, *dir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("seacoolerd: %v", err)
	}
}

func shutdown(srv *http.Server, store *kvstore.Store, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	if err := store.Close(); err != nil {
		logger.Printf("store close: %v", err)
	}
	logger.Println("exiting...")
	os.Exit(0)
}
