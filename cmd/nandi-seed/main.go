// Command nandi-seed upserts farmer profiles into the Mongo directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vango-go/nandi-live/internal/dotenv"
	"github.com/vango-go/nandi-live/pkg/gateway/directory"
)

type seedOptions struct {
	mongoURI   string
	database   string
	collection string
	file       string
	timeout    time.Duration
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseFlags(args []string, stderr io.Writer) (seedOptions, error) {
	fs := flag.NewFlagSet("nandi-seed", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts seedOptions
	fs.StringVar(&opts.mongoURI, "mongo-uri", envOr("NANDI_RELAY_MONGO_URI", "mongodb://localhost:27017/"), "mongo connection string")
	fs.StringVar(&opts.database, "database", envOr("NANDI_RELAY_MONGO_DATABASE", "nandi_system"), "database name")
	fs.StringVar(&opts.collection, "collection", envOr("NANDI_RELAY_MONGO_COLLECTION", "farmers-data"), "collection name")
	fs.StringVar(&opts.file, "file", "", "JSON array of profiles to load instead of the built-in demo set")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return seedOptions{}, err
	}
	if fs.NArg() > 0 {
		return seedOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// loadProfiles reads profiles from path, or returns the demo set when path
// is empty. Every profile id must be a valid session identity.
func loadProfiles(path string) ([]directory.Profile, error) {
	profiles := directory.SeedProfiles()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profiles: %w", err)
		}
		profiles = nil
		if err := json.Unmarshal(raw, &profiles); err != nil {
			return nil, fmt.Errorf("decode profiles: %w", err)
		}
	}
	if len(profiles) == 0 {
		return nil, errors.New("no profiles to seed")
	}
	for i, p := range profiles {
		id, err := directory.ParseIdentity(p.ID)
		if err != nil {
			return nil, fmt.Errorf("profile %d (%q): %w", i, p.Name, err)
		}
		profiles[i].ID = id.String()
	}
	return profiles, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "nandi-seed: %v\n", err)
		return 1
	}
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "nandi-seed: %v\n", err)
		return 2
	}
	profiles, err := loadProfiles(opts.file)
	if err != nil {
		fmt.Fprintf(stderr, "nandi-seed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	dir, err := directory.ConnectMongo(ctx, opts.mongoURI, opts.database, opts.collection)
	if err != nil {
		fmt.Fprintf(stderr, "nandi-seed: %v\n", err)
		return 1
	}
	defer dir.Close(context.Background())

	n, err := dir.Upsert(ctx, profiles...)
	if err != nil {
		fmt.Fprintf(stderr, "nandi-seed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "seeded %d farmer profiles into %s.%s\n", n, opts.database, opts.collection)
	return 0
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
