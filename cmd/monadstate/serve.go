package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/erigontech/monadstate/asyncio"
	"github.com/erigontech/monadstate/chunkpool"
	"github.com/erigontech/monadstate/eventring"
	"github.com/erigontech/monadstate/internal/observability"
	"github.com/erigontech/monadstate/reserve"
	"github.com/erigontech/monadstate/statecache"
	"github.com/erigontech/monadstate/trie"
)

type serveFlags struct {
	eventSocket     string
	accountCacheCap int
	readSlots       int
	writeSlots      int
	descriptorCap   uint32
	payloadSize     uint64
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{
		eventSocket:     "./monadstate-events.sock",
		accountCacheCap: 1 << 16,
		readSlots:       64,
		writeSlots:      64,
		descriptorCap:   1 << 14,
		payloadSize:     64 << 20,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the storage engine as a long-running process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(g, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.eventSocket, "event-socket", f.eventSocket, "UNIX socket path clients use to request event rings")
	flags.IntVar(&f.accountCacheCap, "account-cache-capacity", f.accountCacheCap, "account cache entry capacity")
	flags.IntVar(&f.readSlots, "read-slots", f.readSlots, "async executor read buffer slots")
	flags.IntVar(&f.writeSlots, "write-slots", f.writeSlots, "async executor write buffer slots")
	flags.Uint32Var(&f.descriptorCap, "event-descriptor-capacity", f.descriptorCap, "event ring descriptor slot count (power of two)")
	flags.Uint64Var(&f.payloadSize, "event-payload-size", f.payloadSize, "event ring payload region size in bytes (power of two)")
	return cmd
}

// engine bundles every long-lived component runServe wires together so
// admin subcommands and the server loop share one construction path.
type engine struct {
	pool       *chunkpool.Pool
	exec       *asyncio.Executor
	persister  *trie.ChunkPersister
	cache      *statecache.Cache
	precompile *reserve.Precompile
	log        *observability.Logger
}

func openEngine(g *globalFlags, accountCacheCap, readSlots, writeSlots int) (*engine, error) {
	pool, err := chunkpool.Open(g.dataDir, g.capacity)
	if err != nil {
		return nil, fmt.Errorf("open chunk pool: %w", err)
	}
	exec := asyncio.NewExecutor(readSlots, writeSlots)
	persister, err := trie.NewChunkPersister(pool, exec)
	if err != nil {
		exec.Close()
		pool.Close()
		return nil, fmt.Errorf("open chunk persister: %w", err)
	}
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	cache, err := statecache.New(accountCacheCap, metrics)
	if err != nil {
		exec.Close()
		pool.Close()
		return nil, fmt.Errorf("open state cache: %w", err)
	}
	return &engine{
		pool:       pool,
		exec:       exec,
		persister:  persister,
		cache:      cache,
		precompile: reserve.New(),
		log:        observability.New("component", "cmd/monadstate"),
	}, nil
}

func (e *engine) Close() {
	e.exec.Close()
	e.pool.Close()
}

// logStats periodically reports cache occupancy and chunk-pool fill level,
// the way a long-running erigon process logs periodic progress stats.
func (e *engine) logStats(stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.log.Info("engine stats", "account_cache_len", e.cache.Len(), "chunks", len(e.pool.Chunks()))
		}
	}
}

func (e *engine) newContext() *trie.Context {
	ctx := trie.NewContext()
	ctx.Persister = e.persister
	return ctx
}

func runServe(g *globalFlags, f *serveFlags) error {
	e, err := openEngine(g, f.accountCacheCap, f.readSlots, f.writeSlots)
	if err != nil {
		return err
	}
	defer e.Close()

	ring, err := eventring.New("monadstate", f.descriptorCap, f.payloadSize)
	if err != nil {
		return fmt.Errorf("open event ring: %w", err)
	}
	defer ring.Close()

	_ = os.Remove(f.eventSocket)
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: f.eventSocket, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listen on event socket %s: %w", f.eventSocket, err)
	}
	defer listener.Close()

	server := eventring.NewServer(ring)
	stop := make(chan struct{})
	go server.Heartbeat(stop)
	go e.logStats(stop)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	e.log.Info("monadstate serving", "datadir", g.dataDir, "event-socket", f.eventSocket)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		close(stop)
		listener.Close()
		e.log.Info("monadstate shutting down")
		return nil
	case err := <-serveErr:
		close(stop)
		return err
	}
}
