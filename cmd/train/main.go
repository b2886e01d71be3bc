// Command train composes an experiment configuration and runs a single
// forward-model PPO training run on the moonlander environment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/helios-labs/moonlander/internal/config"
	"github.com/helios-labs/moonlander/internal/fmppo"
	"github.com/helios-labs/moonlander/internal/report"
	"github.com/helios-labs/moonlander/internal/track"
	"github.com/helios-labs/moonlander/internal/version"
)

// overrideList collects repeated -set key=value flags.
type overrideList []string

func (o *overrideList) String() string { return strings.Join(*o, ",") }

func (o *overrideList) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("override %q must be key=value", v)
	}
	*o = append(*o, v)
	return nil
}

func main() {
	var overrides overrideList
	configPath := flag.String("config", "config/config.yaml", "Root configuration document")
	check := flag.Bool("check", false, "Validate and print the composed configuration, then exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Var(&overrides, "set", "Configuration override as key=value (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Optional environment file for deployment-specific settings.
	godotenv.Load()

	composer := config.NewComposer(filepath.Dir(*configPath))
	root := strings.TrimSuffix(filepath.Base(*configPath), ".yaml")
	node, err := composer.Compose(root, []string(overrides))
	if err != nil {
		fmt.Fprintf(os.Stderr, "compose error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Decode(node)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if *check {
		out, err := node.Marshal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "render error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	runDir := filepath.Join(cfg.Run.OutputDir, cfg.Run.Name)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "output dir error: %v\n", err)
		os.Exit(1)
	}

	tracker, err := track.ForRun(cfg.Run.Tracking, runDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracker error: %v\n", err)
		os.Exit(1)
	}
	defer tracker.Close()

	trainer, err := fmppo.NewTrainer(cfg, tracker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trainer error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := trainer.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "training error: %v\n", err)
		os.Exit(1)
	}

	if err := writeResult(filepath.Join(runDir, "result.json"), result); err != nil {
		fmt.Fprintf(os.Stderr, "result error: %v\n", err)
		os.Exit(1)
	}
	if len(result.ReturnHistory) > 0 {
		curve := filepath.Join(runDir, "learning_curve.png")
		if err := report.LearningCurve(cfg.Run.Name, result.ReturnHistory, curve); err != nil {
			fmt.Fprintf(os.Stderr, "curve error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("run %s: %d iterations, %d episodes, mean return %.2f, eval %.2f\n",
		cfg.Run.Name, result.Iterations, result.Episodes, result.MeanReturn, result.EvalMeanReturn)
}

func writeResult(path string, result *fmppo.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
