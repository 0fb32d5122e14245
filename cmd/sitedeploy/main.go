package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/darshan-rambhia/sitedeploy"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	Version     = "N/A"
	BuildCommit = "N/A"
	BuildTime   = "N/A"
)

func newRootCmd() *cobra.Command {
	var (
		configPath    string
		debug         bool
		dryRun        bool
		hostKeyPolicy string
	)

	cmd := &cobra.Command{
		Use:   "sitedeploy [--config FILE] [--dry-run] [--debug]",
		Short: "Replace a remote web root with a local build over SFTP",
		Long: `sitedeploy connects to the configured server, removes every non-hidden
entry from the remote directory and uploads the local build directory in
its place.

Configuration comes from an optional YAML file and SITEDEPLOY_* environment
variables; the environment wins over the file and flags win over both.`,

		Args: cobra.NoArgs,

		SilenceErrors: true,
		SilenceUsage:  true,

		Version: Version,

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := sitedeploy.LoadConfig(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("dry-run") {
				cfg.DryRun = dryRun
			}
			if flags.Changed("host-key-policy") {
				cfg.HostKeyPolicy = sitedeploy.HostKeyPolicy(hostKeyPolicy)
			}

			if err := configureLogging(cfg.LogLevel, debug); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return deploy(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file (default $SITEDEPLOY_CONFIG)")
	flags.BoolVar(&debug, "debug", false, "Enable debug log")
	flags.BoolVar(&dryRun, "dry-run", false, "Only report what would be removed and uploaded")
	flags.StringVar(&hostKeyPolicy, "host-key-policy", "", "Host key verification: strict, accept-new or insecure")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show full version info",

		Args: cobra.NoArgs,

		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("sitedeploy %s\n", Version)
			fmt.Printf("golang %s\n", strings.TrimPrefix(runtime.Version(), "go"))
			fmt.Println("")
			fmt.Printf("Build target: %s-%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Printf("Commit SHA:   %s\n", BuildCommit)
			fmt.Printf("Build time:   %s\n", BuildTime)
		},
	}
}

func configureLogging(level string, debug bool) error {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(lvl)
	return nil
}

func deploy(ctx context.Context, cfg sitedeploy.Config) error {
	deployer, err := sitedeploy.NewDeployer(cfg)
	if err != nil {
		return err
	}
	cfg = deployer.Config()

	report, runErr := deployer.Run(ctx)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deployer.Metrics().Push(pushCtx, cfg.PushgatewayURL, cfg.Host); err != nil {
			logrus.WithError(err).Warn("Failed to push metrics")
		}
	}

	if runErr != nil {
		return runErr
	}

	if cfg.DryRun {
		fmt.Printf("%s: nothing was changed on %s\n", color.YellowString("Dry run"), cfg.Host)
		return nil
	}
	fmt.Printf("%s: deployed %d files to %s:%s in %s\n",
		color.GreenString("Done"), len(report.Upload.Files), cfg.Host, cfg.RemoteDir,
		report.Duration.Round(time.Millisecond))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", color.RedString("Error"), err)
		os.Exit(1)
	}
}
