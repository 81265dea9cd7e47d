package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	blkchan "github.com/blkchan/go-blkchan"
	"github.com/blkchan/go-blkchan/consumer"
	"github.com/blkchan/go-blkchan/internal/logging"
	"github.com/blkchan/go-blkchan/internal/wire"
)

func main() {
	var (
		sizeStr  = flag.String("size", "64M", "Size of the memory disk (e.g., 64M, 1G)")
		requests = flag.Int("requests", 1024, "Number of write/read request pairs to submit")
		ioSize   = flag.Int("iosize", 4096, "I/O size per request in bytes")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("Invalid size '%s': %v", *sizeStr, err)
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	// Producer and consumer halves talk over a socketpair, the closest
	// userspace stand-in for the device file boundary.
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		logger.Error("socketpair failed", "error", err)
		os.Exit(1)
	}
	producerSide, err := net.FileConn(os.NewFile(uintptr(fds[0]), "producer"))
	if err != nil {
		logger.Error("producer conn failed", "error", err)
		os.Exit(1)
	}
	consumerSide, err := net.FileConn(os.NewFile(uintptr(fds[1]), "consumer"))
	if err != nil {
		logger.Error("consumer conn failed", "error", err)
		os.Exit(1)
	}

	params := blkchan.DefaultParams()
	params.Label = "mem0"
	ch, err := blkchan.NewChannel(params, &blkchan.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create channel", "error", err)
		os.Exit(1)
	}

	logger.Info("creating memory disk", "size", formatSize(size), "size_bytes", size)
	disk := consumer.NewMemDisk(0, size)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var serveWG sync.WaitGroup
	serveWG.Add(2)
	go func() {
		defer serveWG.Done()
		if err := disk.Serve(consumerSide); err != nil {
			logger.Error("consumer stopped", "error", err)
		}
	}()
	pump := blkchan.NewPump(ch, producerSide, &blkchan.PumpConfig{Logger: logger})
	go func() {
		defer serveWG.Done()
		if err := pump.Run(ctx); err != nil {
			logger.Error("pump stopped", "error", err)
		}
	}()

	// Handle Ctrl+C during the run
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
		producerSide.Close()
		consumerSide.Close()
	}()

	logger.Info("submitting I/O", "requests", *requests, "iosize", *ioSize)
	if err := runIO(ch, *requests, *ioSize, size); err != nil {
		logger.Error("I/O failed", "error", err)
	}

	snap := ch.Metrics().Snapshot()
	fmt.Printf("Submitted:    %d\n", snap.Submits)
	fmt.Printf("Completed:    %d (%d failed)\n", snap.Completions, snap.Failed)
	fmt.Printf("Batches:      %d (%s out, %s in)\n", snap.ReadBatches,
		formatSize(int64(snap.BytesOut)), formatSize(int64(snap.BytesIn)))
	fmt.Printf("Avg latency:  %dus  p99: %dus\n",
		snap.AvgLatencyNs/1000, snap.LatencyP99Ns/1000)
	fmt.Printf("Max depth:    %d\n", snap.MaxQueueDepth)

	ch.Abort()
	cancel()
	producerSide.Close()
	consumerSide.Close()
	serveWG.Wait()
	ch.Put()
}

// runIO writes random blocks and reads them back, verifying contents.
func runIO(ch *blkchan.Channel, requests, ioSize int, diskSize int64) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for i := 0; i < requests; i++ {
		offset := uint64(int64(i*ioSize) % (diskSize - int64(ioSize)))
		payload := make([]byte, ioSize)
		if _, err := rand.Read(payload); err != nil {
			return err
		}

		wg.Add(1)
		write := blkchan.NewRequest(wire.OpWrite, offset, uint32(ioSize))
		write.Payload = payload
		write.End = func(req *blkchan.Request) {
			defer wg.Done()
			if req.Status != 0 {
				fail(fmt.Errorf("write %d failed: status %d", req.Unique(), req.Status))
				return
			}

			// Read it back once the write completed.
			wg.Add(1)
			dst := make([]byte, ioSize)
			read := blkchan.NewRequest(wire.OpRead, offset, uint32(ioSize))
			read.Data = [][]byte{dst}
			read.End = func(r *blkchan.Request) {
				defer wg.Done()
				if r.Status != 0 {
					fail(fmt.Errorf("read %d failed: status %d", r.Unique(), r.Status))
				}
			}
			if err := ch.Submit(read); err != nil {
				wg.Done()
				fail(err)
			}
		}
		if err := ch.Submit(write); err != nil {
			wg.Done()
			return err
		}
	}

	wg.Wait()
	return firstErr
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(s, "K") {
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	} else if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	} else {
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
