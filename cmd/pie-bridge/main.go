// ABOUTME: Entry point for pie-bridge
// ABOUTME: Connects a bot account on a chat gateway to the installed pies

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/pie-bridge/internal/bridge"
	"github.com/2389/pie-bridge/internal/config"
)

// Version is set at build time.
var version = "dev"

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │            pie-bridge            │
    │                                  │
    ╰──────────────────────────────────╯
`

func usage() {
	fmt.Println("Usage: pie-bridge [--config PATH] [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Connect to the gateway and run pies (default)")
	fmt.Println("  pies      List stored pie records")
	fmt.Println("  health    Check a running bridge's health endpoint")
	fmt.Println("  version   Print the version")
	fmt.Println()
	fmt.Println("Flags:")
	pflag.PrintDefaults()
}

func main() {
	configFlag := pflag.StringP("config", "c", "", "config file (default $PIE_BRIDGE_CONFIG or $XDG_CONFIG_HOME/pie-bridge/config.toml)")
	pflag.Usage = usage
	pflag.Parse()

	command := "serve"
	if pflag.NArg() > 0 {
		command = pflag.Arg(0)
	}
	configPath := config.ResolvePath(*configFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch command {
	case "serve":
		err = runServe(ctx, configPath)
	case "pies":
		err = runPies(ctx, configPath)
	case "health":
		err = runHealth(ctx, configPath)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:   %s ", cfg.Gateway.URL)
	gray.Printf("(%s)\n", cfg.Gateway.Adapter)
	green.Print("    ▶ ")
	fmt.Printf("Bot:       %d\n", cfg.Gateway.QQ)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s ", cfg.Database.Path)
	gray.Printf("(%s)\n", cfg.Database.Driver)
	if cfg.Plugins.ConfigPath != "" {
		green.Print("    ▶ ")
		fmt.Printf("Plugins:   %s", cfg.Plugins.ConfigPath)
		if cfg.Plugins.Watch {
			yellow.Print(" [watch]")
		}
		fmt.Println()
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting pie-bridge",
		"config", configPath,
		"gateway", cfg.Gateway.URL,
		"adapter", cfg.Gateway.Adapter,
	)

	b, err := bridge.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	return b.Run(ctx)
}

func runPies(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := bridge.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.GetPluginRecords(ctx)
	if err != nil {
		return fmt.Errorf("reading pie records: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No pies recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTATE\tUPDATED")
	for _, rec := range records {
		state := color.GreenString("enabled")
		if !rec.Enabled {
			state = color.HiBlackString("disabled")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.PieID, rec.Version, state, rec.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runHealth(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Metrics.Enabled {
		return fmt.Errorf("metrics.enabled is false; the bridge serves no health endpoint")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", cfg.Metrics.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		color.Red("✗ not ready (status %d)", resp.StatusCode)
		return fmt.Errorf("bridge not ready")
	}
	color.Green("✓ ready")
	return nil
}
