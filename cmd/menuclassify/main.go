package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"veganagain/internal/classifier"
	"veganagain/internal/config"
	"veganagain/internal/restaurants"
	"veganagain/internal/restaurants/types"
	"veganagain/internal/supabase"
)

// result is one JSON line of output.
type result struct {
	classifier.Classification
	Error string `json:"error,omitempty"`
}

func main() {
	var in string
	var restaurantID int64
	var all bool
	var workers int
	var timeout time.Duration
	flag.StringVar(&in, "in", "", "File with one menu name per line, - for stdin")
	flag.Int64Var(&restaurantID, "restaurant", 0, "Classify the menus of this restaurant from Supabase")
	flag.BoolVar(&all, "all", false, "With -restaurant, include menus that already have a level")
	flag.IntVar(&workers, "workers", 4, "Concurrent model requests")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Overall deadline")
	flag.Parse()

	config.LoadDotEnv()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var names []string
	switch {
	case in != "":
		r := io.Reader(os.Stdin)
		if in != "-" {
			f, err := os.Open(in)
			if err != nil {
				log.Fatalf("failed to open %s: %v", in, err)
			}
			defer f.Close()
			r = f
		}
		var err error
		if names, err = readMenus(r); err != nil {
			log.Fatalf("failed to read menus: %v", err)
		}
	case restaurantID > 0:
		sbCfg := config.SupabaseFromEnv()
		sb, err := supabase.NewClient(supabase.Config{URL: sbCfg.URL, AnonKey: sbCfg.AnonKey})
		if err != nil {
			log.Fatalf("failed to create supabase client: %v", err)
		}
		raw, err := sb.Menus(ctx, restaurantID)
		if err != nil {
			log.Fatalf("failed to fetch menus for %d: %v", restaurantID, err)
		}
		menus, err := restaurants.NormalizeMenus(ctx, raw)
		if err != nil {
			log.Fatalf("failed to read menus for %d: %v", restaurantID, err)
		}
		names = pendingMenus(menus, all)
	default:
		fmt.Fprintln(os.Stderr, "Error: one of -in or -restaurant is required")
		flag.Usage()
		os.Exit(1)
	}
	if len(names) == 0 {
		log.Println("nothing to classify")
		return
	}

	c, err := classifier.New(ctx, config.AIFromEnv())
	if err != nil {
		log.Fatalf("failed to create classifier: %v", err)
	}
	failed, err := writeResults(os.Stdout, c.ClassifyAll(ctx, names, workers))
	if err != nil {
		log.Fatalf("failed to write results: %v", err)
	}
	if failed > 0 {
		log.Printf("%d of %d menus failed", failed, len(names))
		os.Exit(2)
	}
}

// readMenus returns the non-blank lines of r, trimmed.
func readMenus(r io.Reader) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names, sc.Err()
}

func pendingMenus(menus []types.Menu, all bool) []string {
	var names []string
	for _, m := range menus {
		if strings.TrimSpace(m.Name) == "" || (!all && m.Analyzed()) {
			continue
		}
		names = append(names, m.Name)
	}
	return names
}

func writeResults(w io.Writer, results []classifier.Classification) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	failed := 0
	for _, c := range results {
		line := result{Classification: c}
		if c.Err != nil {
			failed++
			line.Error = c.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return failed, err
		}
	}
	return failed, nil
}
