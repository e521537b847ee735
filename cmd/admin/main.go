// Package main provides offline maintenance of the pairing store.
// Stop the server first; it keeps the documents in memory and would overwrite changes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"

	"dailypair/internal/bootstrap"
	"dailypair/internal/config"
	"dailypair/internal/repository"

	"gopkg.in/yaml.v3"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin reset <-a|-p|-c|-b|-d|-e|-u|group id> [group id]  - Reset stored data")
	fmt.Println("  go run ./cmd/admin ban <user id>                                    - Exclude a user from pairing")
	fmt.Println("  go run ./cmd/admin dump [document]                                  - Print stored documents as YAML")
}

var errUsage = errors.New("usage")

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		} else {
			log.Print(err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch args[0] {
	case "reset":
		if len(args) < 2 {
			return errUsage
		}
		group := ""
		if len(args) > 2 {
			group = args[2]
		}
		rt, err := bootstrap.InitRuntime(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize runtime: %w", err)
		}
		defer func() { _ = rt.Close() }()
		what, err := rt.Admin.Reset(ctx, group, args[1])
		if err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		fmt.Printf("Reset %s\n", what)

	case "ban":
		if len(args) < 2 {
			return errUsage
		}
		rt, err := bootstrap.InitRuntime(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize runtime: %w", err)
		}
		defer func() { _ = rt.Close() }()
		if err := rt.Admin.Ban(ctx, args[1]); err != nil {
			return fmt.Errorf("ban failed: %w", err)
		}
		fmt.Printf("User %s is now excluded from pairing\n", args[1])

	case "dump":
		store, db, err := bootstrap.OpenStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				defer func() { _ = sqlDB.Close() }()
			}
		}
		names := repository.AllDocuments
		if len(args) > 1 {
			if !slices.Contains(names, args[1]) {
				return fmt.Errorf("unknown document %q", args[1])
			}
			names = args[1:2]
		}
		if err := dump(ctx, store, names); err != nil {
			return fmt.Errorf("dump failed: %w", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		return errUsage
	}
	return nil
}

func dump(ctx context.Context, store repository.DocumentRepository, names []string) error {
	out := make(map[string]any, len(names))
	for _, name := range names {
		raw, err := store.Raw(ctx, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if raw == nil {
			out[name] = nil
			continue
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		out[name] = doc
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(out)
}
