package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"veganagain/internal/config"
	"veganagain/internal/telemetry"
)

func main() {
	var serve bool
	var addr string
	var help bool

	flag.BoolVar(&serve, "serve", false, "Run HTTP server mode")
	flag.StringVar(&addr, "addr", ":8080", "Address to bind in server mode")
	flag.BoolVar(&help, "help", false, "Show help message")
	flag.BoolVar(&help, "h", false, "Show help message")
	flag.Parse()

	if help || !serve {
		showHelp()
		return
	}

	config.LoadDotEnv()
	ctx := context.Background()
	tel, err := telemetry.Setup(ctx, telemetry.ConfigFromEnv("veganagain"), os.Stderr)
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := runServer(ctx, cfg, addr, tel); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func showHelp() {
	fmt.Println("VeganAgain - vegetarian restaurant finder")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  veganagain -serve [-addr :8080]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -serve          Run the web server")
	fmt.Println("  -addr           Address to bind (default :8080)")
	fmt.Println("  -help, -h       Show this help message")
	fmt.Println()
	fmt.Println("Set ENABLE_MOCKS=true to run without BACKEND_URL.")
}
