// Command grammarctl is an operator inspection tool over the compiled-graph
// artifact cache: it does not drive recognition (there is no decoder
// session to attach to here), it only reports on and edits the on-disk
// cache document a running engine reads and writes.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/glyphoxa-grammar/internal/config"
	"github.com/MrWong99/glyphoxa-grammar/pkg/artifactcache"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	cmdName := args[0]
	if err := flag.CommandLine.Parse(args[1:]); err != nil {
		return 1
	}
	rest := flag.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "grammarctl: load config %q: %v\n", *configPath, err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cachePath := cfg.Model.TmpDir + "/fst_cache.json"
	deps := map[string]string{"model_dir": cfg.Model.ModelDir}
	cache, err := artifactcache.Open(cachePath, deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "grammarctl: open cache %q: %v\n", cachePath, err)
		return 1
	}

	switch cmdName {
	case "list":
		return cmdList(cache)
	case "check":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: grammarctl check <basename>")
			return 1
		}
		return cmdCheck(cache, rest[0])
	case "invalidate":
		return cmdInvalidate(cache, rest)
	default:
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `grammarctl is an operator tool over the compiled-graph artifact cache.

Usage:
  grammarctl list [-config path]
  grammarctl check [-config path] <basename>
  grammarctl invalidate [-config path] [basename]

Commands:
  list        print every basename currently tracked by the cache
  check       report whether a graph/dependency basename's cached digest is current
  invalidate  drop one entry (by basename), or every non-dependency entry if none given`)
}

func cmdList(cache *artifactcache.Cache) int {
	entries := cache.Entries()
	if len(entries) == 0 {
		fmt.Println("(cache is empty)")
		return 0
	}
	deps := make(map[string]bool)
	for _, d := range cache.DependencyList() {
		deps[d] = true
	}
	for _, name := range entries {
		kind := "graph"
		if deps[name] {
			kind = "dependency"
		}
		fmt.Printf("%-12s %s\n", kind, name)
	}
	return 0
}

func cmdCheck(cache *artifactcache.Cache, basename string) int {
	switch {
	case cache.GraphIsCurrent(basename):
		fmt.Printf("%s: current (graph)\n", basename)
	case cache.FileIsCurrent(basename):
		fmt.Printf("%s: current (dependency)\n", basename)
	default:
		fmt.Printf("%s: stale or missing\n", basename)
		return 1
	}
	return 0
}

func cmdInvalidate(cache *artifactcache.Cache, rest []string) int {
	var basename string
	if len(rest) > 0 {
		basename = rest[0]
	}
	cache.Invalidate(basename)
	if err := cache.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "grammarctl: save cache: %v\n", err)
		return 1
	}
	if basename != "" {
		fmt.Printf("invalidated %s\n", basename)
	} else {
		fmt.Println("invalidated all non-dependency entries")
	}
	return 0
}
