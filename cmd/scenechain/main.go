// Package main provides the scenechain command, which runs a scene manifest
// or script locally and streams progress to the terminal.
//
// Usage:
//
//	scenechain -manifest film.yaml
//	scenechain -provider kling -duration 5 -join script.txt
//
// API keys and timing come from the same environment variables as the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/scenechain/internal/bootstrap"
	"github.com/maauso/scenechain/internal/config"
	"github.com/maauso/scenechain/internal/media"
	"github.com/maauso/scenechain/internal/orchestrator"
	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/run"
	"github.com/maauso/scenechain/internal/scene"
)

func main() {
	if err := execute(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func execute(args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	m, err := opts.manifest(cfg.OutputDir)
	if err != nil {
		return err
	}
	tasks, err := m.Tasks()
	if err != nil {
		return fmt.Errorf("load scenes: %w", err)
	}

	adapter, err := bootstrap.NewProviderFactory(cfg)(provider.Options{
		Name:           m.Provider,
		Model:          m.Model,
		AspectRatio:    m.AspectRatio,
		NegativePrompt: m.NegativePrompt,
		GenerateAudio:  m.GenerateAudio,
		SubjectRefs:    m.SubjectRefs,
		BackgroundRefs: m.BackgroundRefs,
	})
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	proc := media.NewFFmpegProcessor(cfg.FFmpegPath)
	orch, err := orchestrator.New(adapter, proc, orchestrator.Settings{
		DurationSec:    m.DurationSec,
		Resolution:     m.Resolution,
		Seed:           m.Seed,
		FrameChaining:  m.Chaining(),
		OutputDir:      m.OutputDir,
		SubjectRefs:    m.SubjectRefs,
		BackgroundRefs: m.BackgroundRefs,
		PollInterval:   cfg.PollInterval,
		RetryDelay:     cfg.RetryDelay,
	},
		orchestrator.WithLogger(logger),
		orchestrator.WithObserver(consoleObserver(out)),
	)
	if err != nil {
		return err
	}
	if err := orch.Load(tasks); err != nil {
		return err
	}

	fmt.Fprintf(out, "%d scenes with %s, estimated cost $%.2f\n", len(tasks), adapter.Name(), orch.EstimateCost())
	if opts.estimateOnly {
		return nil
	}

	result, err := drive(orch, logger)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, result.Summary.String())

	if !m.Join || result.Stopped {
		return nil
	}
	videos := completedVideos(orch.Snapshot())
	if len(videos) == 0 {
		fmt.Fprintln(out, "No completed scenes to join")
		return nil
	}
	film := filepath.Join(m.OutputDir, run.FilmName)
	if err := proc.JoinVideos(context.Background(), videos, film); err != nil {
		return fmt.Errorf("join videos: %w", err)
	}
	fmt.Fprintf(out, "Joined %d scenes -> %s\n", len(videos), film)
	return nil
}

// drive runs the orchestrator next to a signal watcher. The first SIGINT or
// SIGTERM asks the run to stop at its next check point.
func drive(orch *orchestrator.Orchestrator, logger *slog.Logger) (orchestrator.Result, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	var result orchestrator.Result
	g.Go(func() error {
		defer cancel()
		var err error
		result, err = orch.Run(ctx)
		return err
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Warn("stop requested, finishing the current step",
				slog.String("signal", sig.String()),
			)
			orch.Stop()
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()
	return result, err
}

// consoleObserver prints progress lines as they happen.
func consoleObserver(out io.Writer) orchestrator.Observer {
	return orchestrator.ObserverFunc(func(e orchestrator.Event) {
		switch e.Kind {
		case orchestrator.EventLog:
			fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), e.Message)
		case orchestrator.EventDone:
			if e.Stopped {
				fmt.Fprintln(out, "Run stopped")
			}
		}
	})
}

// completedVideos returns finished video paths in slice order.
func completedVideos(tasks []*scene.Task) []string {
	var paths []string
	for _, t := range tasks {
		if t.State == scene.StateCompleted && t.LocalVideoPath != "" {
			paths = append(paths, t.LocalVideoPath)
		}
	}
	return paths
}
