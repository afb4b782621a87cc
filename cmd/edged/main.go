package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/edged/internal/config"
	"git.home.luguber.info/inful/edged/internal/daemon"
	"git.home.luguber.info/inful/edged/internal/recipe"
	"git.home.luguber.info/inful/edged/internal/version"
)

// exitCodeRestart tells the supervising init system to restart the process
// immediately; the interrupted deployment resumes on the next boot. Same code
// a bootstrap step uses to request a runtime restart.
const exitCodeRestart = 100

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"/etc/edged/config.yaml"`
	EnvFile string `help:"Optional .env file loaded before the configuration" default:""`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
	} `cmd:"" help:"Run the component lifecycle daemon"`

	Apply struct {
		Document string `arg:"" help:"Deployment document (JSON) to submit"`
		Wait     bool   `help:"Poll until the deployment reaches a terminal state"`
	} `cmd:"" help:"Submit a deployment document to a running daemon"`

	Validate struct {
	} `cmd:"" help:"Validate the configuration and recipe directory"`

	Version struct {
	} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	if CLI.EnvFile != "" {
		if err := godotenv.Load(CLI.EnvFile); err != nil {
			slog.Error("Failed to load env file", "error", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	switch ctx.Command() {
	case "run":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		if err := runDaemon(cfg); err != nil {
			if errors.Is(err, daemon.ErrRestartRequested) {
				slog.Info("exiting for restart")
				os.Exit(exitCodeRestart)
			}
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "apply <document>":
		cfg := mustLoadConfig()
		if err := runApply(cfg); err != nil {
			slog.Error("Apply failed", "error", err)
			os.Exit(1)
		}
	case "validate":
		cfg := mustLoadConfig()
		if err := runValidate(cfg); err != nil {
			slog.Error("Validation failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("configuration and recipes OK")
	case "version":
		fmt.Println(version.String())
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runDaemon(cfg *config.Config) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// runApply submits a document file over the local control API.
func runApply(cfg *config.Config) error {
	data, err := os.ReadFile(CLI.Apply.Document)
	if err != nil {
		return err
	}
	// Fail locally on malformed JSON before bothering the daemon.
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", CLI.Apply.Document, err)
	}

	base := "http://" + cfg.API.Listen
	resp, err := http.Post(base+"/api/v1/deployments", "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var accepted struct {
		DeploymentID string `json:"deploymentId"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return err
	}
	fmt.Println("submitted:", accepted.DeploymentID)

	if !CLI.Apply.Wait {
		return nil
	}
	return pollDeployment(base, accepted.DeploymentID)
}

func pollDeployment(base, id string) error {
	for {
		time.Sleep(2 * time.Second)
		resp, err := http.Get(base + "/api/v1/deployments/" + id)
		if err != nil {
			return err
		}
		var st struct {
			State  string `json:"state"`
			Detail string `json:"detail"`
		}
		err = json.NewDecoder(resp.Body).Decode(&st)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if st.State == "IN_PROGRESS" {
			continue
		}
		fmt.Println("deployment", id+":", st.State)
		if st.Detail != "" {
			fmt.Println(st.Detail)
		}
		if st.State != "SUCCEEDED" {
			return errors.New("deployment did not succeed")
		}
		return nil
	}
}

// runValidate loads every recipe so syntax and version errors surface before
// the daemon is restarted with them.
func runValidate(cfg *config.Config) error {
	res, err := recipe.NewResolver(cfg.Paths.RecipeDir)
	if err != nil {
		return err
	}
	names := res.Known()
	fmt.Printf("loaded %d component(s) from %s\n", len(names), cfg.Paths.RecipeDir)
	return nil
}
