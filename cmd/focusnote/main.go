package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/focusnote/internal/app"
	"github.com/petems/focusnote/internal/config"
	"github.com/petems/focusnote/internal/logging"
	"github.com/petems/focusnote/internal/monitor"
	"github.com/petems/focusnote/internal/permissions"
	"github.com/petems/focusnote/internal/tray"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	cfgFile  string
	logLevel string

	withTray       bool
	recordPlatform string
	manualPlatform string
	recordDuration time.Duration
	forceInit      bool
)

var rootCmd = &cobra.Command{
	Use:           "focusnote",
	Short:         "Record, transcribe and summarize calls automatically",
	Long:          `FocusNote watches for Zoom, Discord and Teams calls, records them, streams the audio to a transcription server and files meeting notes when the call ends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch for calls and record them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd.Context())
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a single session of fixed length",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord(cmd.Context())
	},
}

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Start and stop recordings with Enter, without call detection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runManual(cmd.Context())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices and the ones that would be recorded",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices()
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run one detection pass and print what was seen",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd.Context())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("// %s\n%s\n", configPath(), data)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("FocusNote %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.Path()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	runCmd.Flags().BoolVar(&withTray, "tray", false, "show the system tray icon")
	recordCmd.Flags().StringVar(&recordPlatform, "platform", "test", "platform tag for the recording")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 10*time.Second, "how long to record")
	manualCmd.Flags().StringVar(&manualPlatform, "platform", "manual", "platform tag for the recording")
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(manualCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.Path()
}

// setup loads config and builds the logger. A config error is fatal since
// thresholds and endpoints would otherwise silently fall back.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, logging.New(), fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return cfg, logging.NewWithLevel(level), nil
}

func newApp(cfg *config.Config, log zerolog.Logger, updater monitor.StatusUpdater) (*app.App, error) {
	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsurePermissions(log); err != nil {
		log.Warn().Err(err).Msg("Microphone may not be recorded")
	}
	return app.New(app.Config{
		Config:        cfg,
		StatusUpdater: updater,
		Version:       Version,
		Logger:        log,
	})
}

func runMonitor(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	log.Info().Str("version", Version).Str("commit", Commit).Msg("FocusNote starting...")

	if !withTray && !cfg.Tray {
		application, err := newApp(cfg, log, nil)
		if err != nil {
			return err
		}
		err = application.Run(ctx)
		log.Info().Msg("Shut down")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(cfg.NotesDir, Version, Commit, cancel, log)
	application, err := newApp(cfg, log, trayUI)
	if err != nil {
		return err
	}
	trayUI.SetApp(application)

	done := make(chan error, 1)
	go func() {
		done <- application.Run(ctx)
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Tray error")
	}
	cancel()
	err = <-done
	log.Info().Msg("Shut down")
	return err
}

func runRecord(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	application, err := newApp(cfg, log, nil)
	if err != nil {
		return err
	}

	info, err := application.Record(ctx, recordPlatform, recordDuration)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded %d frames to %s\n", info.Frames, info.Path)
	return nil
}

func runManual(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	application, err := newApp(cfg, log, nil)
	if err != nil {
		return err
	}
	defer application.Close()

	// Streaming and status keep running between toggles.
	served := make(chan error, 1)
	go func() { served <- application.Serve(ctx) }()

	lines := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- struct{}{}
		}
		close(lines)
	}()

	fmt.Println("Press Enter to start or stop recording, Ctrl+C to quit")
	for {
		select {
		case <-ctx.Done():
			if application.Status().Session != nil {
				application.Toggle(manualPlatform)
			}
			return <-served
		case _, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			on, err := application.Toggle(manualPlatform)
			switch {
			case err != nil:
				log.Error().Err(err).Msg("Failed to start recording")
			case on:
				fmt.Println("Recording...")
			default:
				fmt.Println("Stopped")
			}
		}
	}
}

func listDevices() error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	application, err := newApp(cfg, zerolog.Nop(), nil)
	if err != nil {
		return err
	}
	defer application.Close()

	devices, err := application.ListDevices()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list audio devices")
		return err
	}
	for _, d := range devices {
		flags := ""
		if d.Default {
			flags += " default"
		}
		if d.Loopback {
			flags += " loopback"
		}
		fmt.Printf("[%d] %-10s %s (%d ch, %d Hz)%s\n", d.Index, d.Role, d.Name, d.Channels, d.SampleRate, flags)
	}

	res := application.Resolution()
	fmt.Println()
	switch {
	case res.Speaker != nil:
		fmt.Printf("System audio: %s\n", res.Speaker.Name)
	case res.Pipe != nil:
		fmt.Printf("System audio: %s (pipe)\n", res.Pipe.Path)
	default:
		fmt.Println("System audio: none")
	}
	if res.Microphone != nil {
		fmt.Printf("Microphone:   %s\n", res.Microphone.Name)
	} else {
		fmt.Println("Microphone:   none")
	}
	return nil
}

func runProbe(ctx context.Context) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	application, err := newApp(cfg, zerolog.Nop(), nil)
	if err != nil {
		return err
	}
	defer application.Close()

	samples, snap, err := application.Samples(ctx)
	if err != nil {
		return err
	}
	for _, s := range samples {
		conns := "n/a"
		if s.Connections.Known {
			conns = fmt.Sprintf("udp=%d tcp=%d", s.Connections.UDP, s.Connections.TCP)
		}
		fmt.Printf("%-8s pid=%-7d cpu=%5.1f%% threads=%-3d %s  %s\n", s.Target, s.PID, s.CPUPercent, s.Threads, conns, s.Name)
	}
	fmt.Println()
	for _, r := range snap {
		fmt.Printf("%-8s active=%-5v cpu=%.1f\n", r.Platform, r.Active, r.CPU)
	}
	if p, ok := snap.Winner(); ok {
		fmt.Printf("\nWould record: %s\n", p)
	}
	return nil
}

func initConfig() error {
	path := configPath()
	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
