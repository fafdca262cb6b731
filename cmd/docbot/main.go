// docbot generates and refreshes a repository's documentation tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codeready-toolchain/docbot-core/pkg/config"
	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/llm/anthropic"
	"github.com/codeready-toolchain/docbot-core/pkg/pipeline"
	"github.com/codeready-toolchain/docbot-core/pkg/project"
	"github.com/codeready-toolchain/docbot-core/pkg/retention"
	"github.com/codeready-toolchain/docbot-core/pkg/version"
)

func main() {
	update := flag.Bool("update", false, "only recompute scopes touched since the last recorded commit")
	repoRoot := flag.String("repo", ".", "path to the repository to document")
	noLLM := flag.Bool("no-llm", false, "skip LLM-backed enrichment even if "+config.APIKeyEnvVar+" is set")
	watch := flag.Duration("watch", 0, "if set, keep running incremental updates on this interval until interrupted, with a background snapshot-retention loop")
	showVersion := flag.Bool("version", false, "print the version string and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	root, err := resolveRoot(*repoRoot)
	if err != nil {
		log.Fatalf("resolve repo root: %v", err)
	}

	cfg, err := config.LoadFromRepo(root)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *noLLM {
		cfg.NoLLM = true
	}

	var client llm.Client
	if !cfg.NoLLM {
		c, err := anthropic.NewFromAPIKey(os.Getenv(config.APIKeyEnvVar), cfg.Model)
		if err != nil {
			log.Printf("warning: could not build LLM client, continuing in --no-llm mode: %v", err)
			cfg.NoLLM = true
		} else {
			client = llm.NewAdaptiveLimiter(c, 80_000, 400_000)
		}
	}

	mode := "run"
	if *update {
		mode = "update"
	}
	log.Printf("%s %s: repo=%s model=%s no_llm=%t", version.Full(), mode, root, cfg.Model, cfg.NoLLM)

	ctx := context.Background()
	if *watch > 0 {
		runWatch(ctx, root, cfg, client, *watch)
		return
	}

	result, err := pipeline.Run(ctx, pipeline.Options{
		RepoRoot: root,
		Config:   cfg,
		Client:   client,
		Update:   *update,
	})
	if err != nil {
		log.Fatalf("pipeline failed: %v", err)
	}
	logResult(result)
}

// runWatch keeps the repository's documentation current until interrupted:
// an initial full run, then incremental updates on every tick, with a
// background retention.Service enforcing the configured snapshot cap
// independently of the run loop (it prunes on its own ticker, whether or
// not a run reaches its own prune step).
func runWatch(ctx context.Context, root string, cfg config.Config, client llm.Client, interval time.Duration) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths := project.NewPaths(root)
	retentionSvc := retention.NewService(paths, cfg.MaxSnapshots, interval)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	update := false
	for {
		result, err := pipeline.Run(ctx, pipeline.Options{
			RepoRoot: root,
			Config:   cfg,
			Client:   client,
			Update:   update,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("watch: pipeline run failed, will retry next tick: %v", err)
		} else {
			logResult(result)
		}
		update = true

		select {
		case <-ctx.Done():
			log.Printf("watch: shutting down")
			return
		case <-time.After(interval):
		}
	}
}

func logResult(result pipeline.Result) {
	log.Printf("run %s complete: %d scopes (%d succeeded, %d failed), %d files written",
		result.RunID, result.Meta.ScopeCount, result.Meta.Succeeded, result.Meta.Failed, len(result.Written))
	for _, w := range result.Written {
		log.Printf("  wrote %s", w.Path)
	}
}

func resolveRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path for %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", abs)
	}
	return abs, nil
}
