package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fleetsync/inventory/internal/audit"
	"github.com/fleetsync/inventory/internal/config"
	"github.com/fleetsync/inventory/internal/localstore"
	"github.com/fleetsync/inventory/internal/logging"
	"github.com/fleetsync/inventory/internal/mtls"
	"github.com/fleetsync/inventory/internal/scheduler"
	"github.com/fleetsync/inventory/internal/svcquery"
	"github.com/fleetsync/inventory/internal/taskrunner"
	"github.com/fleetsync/inventory/pkg/api"
)

var log = logging.L("main")

var (
	version   = "0.1.0"
	cfgFile   string
	serverURL string
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "inventory-agent",
	Short: "Fleet inventory agent",
	Long:  `inventory-agent collects endpoint inventory, pushes it to the inventory server and runs the tasks the server assigns.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this endpoint with the inventory server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return registerEndpoint(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("inventory-agent v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registration and local queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkStatus(cmd.Context(), cmd.OutOrStdout())
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks in the local queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listLocalTasks(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/inventory/agent.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "inventory server URL")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
}

func main() {
	// The SCM starts the binary without a console; detect that before any
	// output is written.
	if isWindowsService() {
		if err := runAsService(startAgent); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// agentComponents holds everything that must be shut down in order.
type agentComponents struct {
	sched     *scheduler.Scheduler
	audit     *audit.Logger
	logCloser io.Closer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if cfg.EndpointName == "" {
		cfg.EndpointName, _ = os.Hostname()
	}
	return cfg, nil
}

func queuePath(cfg *config.Config) string {
	return filepath.Join(cfg.GetDataDir(), "tasks.db")
}

// startAgent wires the scheduler and starts it in the background.
func startAgent() (*agentComponents, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, fmt.Errorf("invalid config: %v", result.Fatals)
	}
	for _, w := range result.Warnings {
		log.Warn("config validation", "error", w)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL required: use --server or set server_url in config")
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	logCloser, err := logging.Setup(cfg.LogFormat, cfg.LogLevel, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups, hasConsole())
	if err != nil {
		log.Warn("log file unavailable, logging to stdout", "error", err)
	}

	auditLog, err := audit.NewLogger(cfg)
	if err != nil {
		log.Warn("audit log unavailable", "error", err)
	}

	// A queue that cannot be opened only stops task work. The push cycles
	// keep running and the open is retried every cycle.
	openQueue := func() (*localstore.Queue, error) {
		return localstore.Open(queuePath(cfg))
	}
	sched := scheduler.New(cfg, scheduler.Options{
		Server:    client,
		OpenQueue: openQueue,
		Runner:    taskrunner.New(),
		Collect:   scheduler.DefaultCollect(),
		Audit:     auditLog,
		SaveUUID: func(uuid string) error {
			cfg.EndpointUUID = uuid
			return config.SaveTo(cfg, cfgFile)
		},
	})

	log.Info("starting inventory agent",
		"version", version,
		"server", cfg.ServerURL,
		logging.KeyEndpointID, cfg.EndpointUUID,
	)
	go sched.Start()

	return &agentComponents{sched: sched, audit: auditLog, logCloser: logCloser}, nil
}

func shutdownAgent(comps *agentComponents) {
	log.Info("shutting down agent")
	comps.sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	comps.sched.DrainAndWait(ctx)

	if queue := comps.sched.Queue(); queue != nil {
		if err := queue.Close(); err != nil {
			log.Warn("closing task queue", "error", err)
		}
	}
	if comps.audit != nil {
		comps.audit.Close()
	}
	comps.logCloser.Close()
}

func runAgent() error {
	comps, err := startAgent()
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownAgent(comps)
	return nil
}

// newClient builds the server client, with the configured CA and client
// certificate when there are any.
func newClient(cfg *config.Config) (*api.Client, error) {
	client := api.NewClient(cfg.ServerURL)
	tlsCfg, err := mtls.ClientConfig(cfg.TLSCAFile, cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		client.WithHTTPClient(&http.Client{Timeout: 30 * time.Second, Transport: transport})
	}
	return client, nil
}

func registerEndpoint(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.Default()
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		cfg.EndpointName, _ = os.Hostname()
	}
	if cfg.ServerURL == "" {
		return fmt.Errorf("server URL required: use --server or set server_url in config")
	}

	var current *string
	if cfg.EndpointUUID != "" {
		current = &cfg.EndpointUUID
	}
	fmt.Printf("Registering %q with %s\n", cfg.EndpointName, cfg.ServerURL)
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	resp, err := client.Register(ctx, cfg.EndpointName, current)
	if err != nil {
		return err
	}
	cfg.EndpointUUID = *resp.UUID
	if err := config.SaveTo(cfg, cfgFile); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Registered. Endpoint UUID: %s\n", cfg.EndpointUUID)
	fmt.Println("Run 'inventory-agent run' to start the agent.")
	return nil
}

func checkStatus(ctx context.Context, w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(w, "Status: Not configured")
		return nil
	}
	if cfg.EndpointUUID == "" {
		fmt.Fprintln(w, "Status: Not registered")
	} else {
		fmt.Fprintln(w, "Status: Registered")
		fmt.Fprintf(w, "Endpoint UUID: %s\n", cfg.EndpointUUID)
	}
	fmt.Fprintf(w, "Endpoint name: %s\n", cfg.EndpointName)
	fmt.Fprintf(w, "Server: %s\n", cfg.ServerURL)
	if svc, err := svcquery.Query(agentServiceName); err == nil {
		fmt.Fprintf(w, "Service: %s\n", svc)
	}

	queue, err := localstore.Open(queuePath(cfg))
	if err != nil {
		fmt.Fprintf(w, "Task queue: unavailable (%v)\n", err)
		return nil
	}
	defer queue.Close()
	entries, err := queue.List(ctx)
	if err != nil {
		return err
	}
	counts := map[api.TaskStatus]int{}
	for _, e := range entries {
		counts[e.Status]++
	}
	fmt.Fprintf(w, "Task queue: %d pending, %d running, %d succeeded, %d failed\n",
		counts[api.TaskDownloaded], counts[api.TaskRunning], counts[api.TaskSuccessful], counts[api.TaskFailed])
	return nil
}

func listLocalTasks(ctx context.Context, w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	queue, err := localstore.Open(queuePath(cfg))
	if err != nil {
		return err
	}
	defer queue.Close()

	entries, err := queue.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tDOWNLOADED\tFINISHED")
	for _, e := range entries {
		finished := "-"
		if e.FinishedAt != nil {
			finished = humanize.Time(*e.FinishedAt)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Status, humanize.Time(e.TimeDownload), finished)
	}
	return tw.Flush()
}
