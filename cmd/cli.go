// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"csi/internal/config"
	"csi/internal/radio"
	"csi/internal/sink"
	"csi/pkg/build"

	"github.com/spf13/cobra"
)

// One-off commands reported back to main through Config.Command.
const (
	CommandList    = "list"
	CommandVersion = "version"
	CommandHelp    = "help"
)

// ParseArgs parses the process arguments into a validated configuration.
func ParseArgs() (*config.Config, error) {
	return parseArgs(os.Args[1:], os.Stdout)
}

type flagValues struct {
	configPath string
	sinkKind   string
	target     string
	source     string
	replay     string
	listen     string
	loop       bool
	rate       float64
	count      int
	queue      int
	monitor    string
	tui        bool
	verbose    bool
	logLevel   string
}

func parseArgs(args []string, out io.Writer) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()
	var (
		flags   flagValues
		options *config.Config
	)

	// load reads the config file and applies the flags the user set.
	load := func(cmd *cobra.Command, command string) error {
		cfg, err := config.ReadConfig(flags.configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, &flags, cfg)
		cfg.Command = command
		if command == "" {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
		}
		options = cfg
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return load(cmd, "")
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available radio sources and sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd, CommandList); err != nil {
				return err
			}
			return printList(cmd.OutOrStdout())
		},
	})

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			options = config.NewConfig()
			options.Command = CommandVersion
			_, err := fmt.Fprintln(cmd.OutOrStdout(), buildInfo.String())
			return err
		},
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "",
		"Path to a YAML configuration file (default: ./config.yaml if present)")

	// Sink
	pf.StringVarP(&flags.sinkKind, "sink", "s", config.DefaultSinkKind,
		"Where frames go: text (CSI_DATA lines on stdout) or udp")
	pf.StringVarP(&flags.target, "target", "t", config.DefaultUDPTargetAddress,
		"UDP peer for the udp sink (host:port)")

	// Radio
	pf.StringVar(&flags.source, "source", config.DefaultRadioSource,
		"CSI source: simulator, replay or udp")
	pf.StringVarP(&flags.replay, "replay", "r", "",
		"Replay CSI_DATA records from this file (implies --source replay)")
	pf.StringVar(&flags.listen, "listen", "",
		"Receive raw CSI datagrams on this address (implies --source udp)")
	pf.BoolVar(&flags.loop, "loop", false,
		"Rewind the replay file when it ends")
	pf.Float64Var(&flags.rate, "rate", radio.DefaultSimulatorRate,
		"Frames per second emitted by the source (0 for unlimited)")
	pf.IntVar(&flags.count, "count", 0,
		"Stop the simulator after this many frames (0 for unlimited)")

	// Capture
	pf.IntVarP(&flags.queue, "queue", "q", config.DefaultQueueCapacity,
		"Delivery queue capacity in frames")

	// Telemetry
	pf.StringVarP(&flags.monitor, "monitor", "m", "",
		"Serve /metrics, /ws and /healthz on this address")
	pf.BoolVar(&flags.tui, "tui", false,
		"Show the live statistics dashboard")

	// Debug Configuration
	pf.BoolVarP(&flags.verbose, "verbose", "v", config.DefaultVerbosity,
		"Show verbose output")
	pf.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel,
		"Log level: debug, info, warn or error")

	if args == nil {
		args = []string{} // cobra falls back to os.Args on nil
	}
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	// --help and --version print and return without running a command.
	if options == nil {
		options = config.NewConfig()
		options.Command = CommandHelp
	}
	return options, nil
}

// applyFlags copies the flags the user actually set onto cfg, so file and
// environment values survive unless overridden on the command line.
func applyFlags(cmd *cobra.Command, f *flagValues, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("sink") {
		cfg.Sink.Kind = f.sinkKind
	}
	if changed("target") {
		cfg.Sink.UDPTargetAddress = f.target
	}
	if changed("source") {
		cfg.Radio.Source = f.source
	}
	if changed("replay") {
		cfg.Radio.Source = radio.SourceReplay
		cfg.Radio.Replay.Path = f.replay
	}
	if changed("listen") {
		cfg.Radio.Source = radio.SourceUDP
		cfg.Radio.UDP.Listen = f.listen
	}
	if changed("loop") {
		cfg.Radio.Replay.Loop = f.loop
	}
	if changed("rate") {
		cfg.Radio.Simulator.Rate = f.rate
		cfg.Radio.Replay.Rate = f.rate
	}
	if changed("count") {
		cfg.Radio.Simulator.Count = f.count
	}
	if changed("queue") {
		cfg.Capture.QueueCapacity = f.queue
	}
	if changed("monitor") {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Address = f.monitor
	}
	if changed("tui") {
		cfg.TUIMode = f.tui
	}
	if changed("verbose") {
		cfg.Debug = f.verbose
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
}

func printList(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RADIO SOURCES")
	for _, s := range radio.Sources() {
		fmt.Fprintf(tw, "  %s\t%s\n", s.Name, s.Description)
	}
	fmt.Fprintln(tw, "\nSINKS")
	for _, s := range sink.Available() {
		fmt.Fprintf(tw, "  %s\t%s\n", s.Kind, s.Description)
	}
	return tw.Flush()
}
