package commands

import (
	"fmt"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/etrian-dev/ramfsd/internal/admin"
	"github.com/etrian-dev/ramfsd/internal/config"
	"github.com/etrian-dev/ramfsd/internal/dispatcher"
	"github.com/etrian-dev/ramfsd/internal/logger"
	"github.com/etrian-dev/ramfsd/internal/queue"
	"github.com/etrian-dev/ramfsd/internal/session"
	"github.com/etrian-dev/ramfsd/internal/stats"
	"github.com/etrian-dev/ramfsd/internal/store"
	"github.com/etrian-dev/ramfsd/internal/telemetry"
	"github.com/etrian-dev/ramfsd/internal/term"
	"github.com/etrian-dev/ramfsd/internal/worker"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server, reading parameters from -f <config-file>",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "file", "f", "./config.conf", "path to the tab-separated parameter file")
}

func runServe(cmd *cobra.Command, args []string) error {
	params, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, logCloser, err := logger.New(params.LogPath)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logCloser.Close()

	traceShutdown, err := telemetry.Init(nil)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer traceShutdown(cmd.Context())

	_ = os.Remove(params.SockPath)
	ln, err := net.Listen("unix", params.SockPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", params.SockPath, err)
	}

	st := store.New(params.MaxFiles, params.MaxMemBytes)
	obs := stats.NewPromObserver(prometheus.DefaultRegisterer)
	st.SetObserver(obs)

	sessions := session.NewTable()
	jobs := queue.New(params.QueueCapacity)

	d := dispatcher.New(ln, jobs, sessions, log)
	d.OnConnect(func(n int) { st.ObserveConnectedClients(n) })
	d.OnDisconnect(func(id uint32) { st.ReleaseClient(id) })

	pool := worker.New(params.ThreadPoolSize, jobs, st, sessions, log)
	pool.Start()

	if params.MetricsAddr != "" {
		go func() {
			if err := admin.Serve(params.MetricsAddr, st); err != nil {
				log.Error("admin server stopped", logger.ErrAttr(err))
			}
		}()
	}

	coordinator := term.New(d, jobs, sessions, st, params.ThreadPoolSize, log)

	log.Info("server started", "sock_path", params.SockPath, "tpool", params.ThreadPoolSize, "maxmem", params.MaxMemBytes, "maxfiles", params.MaxFiles)

	go d.Run()

	coordinator.Wait()
	d.Wait()
	pool.Wait()

	coordinator.Report(os.Stdout)
	return nil
}
