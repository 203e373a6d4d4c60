package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kubesmoke/kubesmoke/internal/cluster"
	"github.com/kubesmoke/kubesmoke/internal/orchestrator"
	"github.com/kubesmoke/kubesmoke/internal/stack"
	"github.com/kubesmoke/kubesmoke/pkg/logging"
	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

var (
	// version is set via ldflags at build time
	version = "dev"

	// Color palette
	primaryColor = lipgloss.Color("#00D4AA")
	accentColor  = lipgloss.Color("#F59E0B")
	textColor    = lipgloss.Color("#E5E7EB")
	mutedColor   = lipgloss.Color("#9CA3AF")

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Align(lipgloss.Left).
			Padding(1, 0)

	helpStyle = lipgloss.NewStyle().
			Foreground(textColor)

	commandStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	descriptionStyle = lipgloss.NewStyle().
				Foreground(mutedColor)
)

// ASCII art banner for kubesmoke
const banner = `
██╗  ██╗██╗   ██╗██████╗ ███████╗███████╗███╗   ███╗ ██████╗ ██╗  ██╗███████╗
██║ ██╔╝██║   ██║██╔══██╗██╔════╝██╔════╝████╗ ████║██╔═══██╗██║ ██╔╝██╔════╝
█████╔╝ ██║   ██║██████╔╝█████╗  ███████╗██╔████╔██║██║   ██║█████╔╝ █████╗
██╔═██╗ ██║   ██║██╔══██╗██╔══╝  ╚════██║██║╚██╔╝██║██║   ██║██╔═██╗ ██╔══╝
██║  ██╗╚██████╔╝██████╔╝███████╗███████║██║ ╚═╝ ██║╚██████╔╝██║  ██╗███████╗
╚═╝  ╚═╝ ╚═════╝ ╚═════╝ ╚══════╝╚══════╝╚═╝     ╚═╝ ╚═════╝ ╚═╝  ╚═╝╚══════╝
`

const subtitle = "⚡ Deploy, verify, and tear down your application stacks on Kubernetes ⚡"

func printBanner() {
	fmt.Print(bannerStyle.Render(banner))
	fmt.Print(bannerStyle.Render(subtitle))
	fmt.Println()
}

type runOptions struct {
	configPath      string
	externalContext string
	clusterName     string
	workDir         string
	settleSeconds   int
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "kubesmoke",
		Short: "Integration-test orchestrator for Kubernetes application stacks",
		Long: "kubesmoke builds your application images, deploys every stack into a\n" +
			"local or disposable Kubernetes cluster, verifies each one is serving,\n" +
			"and tears everything down again.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			printBanner()
			_ = cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newTeardownCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full integration-test suite",
		Long: "Selects a cluster (an externally-managed context if present, a\n" +
			"disposable kind cluster otherwise), installs required operators, then\n" +
			"deploys and verifies every configured stack in order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "stack configuration file (YAML); built-in stacks when omitted")
	cmd.Flags().StringVar(&opts.externalContext, "external-context", "", "kubeconfig context of an externally-managed cluster")
	cmd.Flags().StringVar(&opts.clusterName, "cluster-name", "", "disposable kind cluster name")
	cmd.Flags().StringVar(&opts.workDir, "workdir", "", "working root for builds and manifests (default: repository root)")
	cmd.Flags().IntVar(&opts.settleSeconds, "settle", 2, "seconds to wait after opening a port-forward before probing")

	return cmd
}

func runSuite(ctx context.Context, opts *runOptions) error {
	printBanner()

	logging.Step(1, "Loading configuration")
	config := stack.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := stack.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		config = loaded
	}
	if opts.externalContext != "" {
		config.ExternalContext = opts.externalContext
	}
	if opts.clusterName != "" {
		config.ClusterName = opts.clusterName
	}

	workDir := opts.workDir
	if workDir == "" {
		workDir = detectWorkDir()
	}
	logging.Infof("Working root: %s", workDir)

	logging.Step(2, fmt.Sprintf("Running %d stacks", len(config.Stacks)))
	o := &orchestrator.Orchestrator{
		Config:      config,
		WorkDir:     workDir,
		SettleDelay: time.Duration(opts.settleSeconds) * time.Second,
		Logf:        logging.Infof,
	}

	start := time.Now()
	results, err := o.Execute(ctx)

	fmt.Println()
	fmt.Println(titleStyle.Render("Results"))
	for _, result := range results {
		if result.Verified() {
			logging.Success(result.String())
		} else {
			logging.Error(result.String())
		}
	}
	logging.Infof("Finished in %s.", time.Since(start).Round(time.Second))

	if err != nil {
		if errors.Is(err, orchestrator.ErrInterrupted) {
			return errors.New("run interrupted; cleanup has completed")
		}
		return err
	}
	logging.Success("All stacks verified.")
	return nil
}

// detectWorkDir anchors builds and manifest paths at the repository root
// when run from a subdirectory, falling back to the current directory.
func detectWorkDir() string {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err == nil {
		if root := strings.TrimSpace(string(out)); root != "" {
			return root
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func newTeardownCommand() *cobra.Command {
	var force bool
	var clusterName string

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Delete a leftover disposable cluster",
		Long: "Deletes the disposable kind cluster a previous run left behind,\n" +
			"for example after a hard kill that skipped cleanup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return teardown(cmd.Context(), clusterName, force)
		},
	}

	cmd.Flags().StringVar(&clusterName, "cluster-name", cluster.DefaultClusterName, "kind cluster to delete")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")

	return cmd
}

func teardown(ctx context.Context, clusterName string, force bool) error {
	run := runner.NewExecRunner("")
	prober := cluster.NewProber(run)
	if !prober.Installed(cluster.BinaryKind) {
		return fmt.Errorf("%s is not installed; nothing to tear down", cluster.BinaryKind)
	}

	exists, err := cluster.KindClusterExists(ctx, run, clusterName)
	if err != nil {
		return err
	}
	if !exists {
		logging.Warning(fmt.Sprintf("Cluster %q not found.", clusterName))
		return nil
	}

	if !force {
		var confirmed bool
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Delete kind cluster %q?", clusterName)).
			Description("This permanently removes the cluster and everything deployed in it.").
			Affirmative("Delete").
			Negative("Keep").
			Value(&confirmed)
		if err := prompt.Run(); err != nil {
			return err
		}
		if !confirmed {
			logging.Info("Teardown cancelled.")
			return nil
		}
	}

	logging.Progress(fmt.Sprintf("Deleting kind cluster %q...", clusterName))
	if err := cluster.DeleteKindCluster(ctx, run, clusterName); err != nil {
		return err
	}
	logging.Success(fmt.Sprintf("Cluster %q deleted.", clusterName))
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", titleStyle.Render("kubesmoke"), helpStyle.Render(version))
		},
	}
}
