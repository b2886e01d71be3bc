// Command sweep composes a configuration with a sweep document and runs
// a hyperparameter study, persisting trials to sqlite as they finish.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/helios-labs/moonlander/internal/config"
	"github.com/helios-labs/moonlander/internal/store"
	"github.com/helios-labs/moonlander/internal/sweep"
	"github.com/helios-labs/moonlander/internal/version"
)

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
	dbPath := flag.String("db", "studies.db", "Study database path")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Var(&overrides, "set", "Configuration override as key=value (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	godotenv.Load()

	composer := config.NewComposer(filepath.Dir(*configPath))
	root := strings.TrimSuffix(filepath.Base(*configPath), ".yaml")
	node, err := composer.Compose(root, []string(overrides))
	if err != nil {
		fmt.Fprintf(os.Stderr, "compose error: %v\n", err)
		os.Exit(1)
	}
	studyCfg, err := sweep.ParseStudyConfig(node)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep config error: %v\n", err)
		os.Exit(1)
	}
	// The base document must itself be a valid experiment before
	// spending a trial budget on variations of it.
	if _, err := config.Decode(node); err != nil {
		fmt.Fprintf(os.Stderr, "base config error: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	study, err := sweep.NewStudy(studyCfg, sweep.WithRecorder(st))
	if err != nil {
		fmt.Fprintf(os.Stderr, "study error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		study.Stop()
	}()

	state, err := study.Run(ctx, sweep.TrainObjective(node))
	if err != nil {
		fmt.Fprintf(os.Stderr, "study failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("study %s (%s): %d complete, %d pruned, %d failed\n",
		studyCfg.Study, study.ID, state.CompletedTrials, state.PrunedTrials, state.FailedTrials)
	if state.Best != nil {
		fmt.Printf("best trial %d: %s = %.4f\n", state.Best.Number, studyCfg.Metric, state.Best.Value)
		for _, name := range paramNames(state.Best.Params) {
			fmt.Printf("  %s = %v\n", name, state.Best.Params[name])
		}
	}
}

func paramNames(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
