package main

import (
	"fmt"
	"os"
)

// Version is the current engine version. Set at build time via -ldflags.
var Version = "0.1.0-dev"

// RunCLI handles a subcommand given as the first argument,
// returning true if it consumed the arguments so main should not also
// parse flags and start the engine.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("lanchat %s\n", Version)
		return true
	case "config":
		return cliConfig(args[1:])
	default:
		return false
	}
}

func cliConfig(args []string) bool {
	cfg := loadFileConfig()

	if len(args) == 0 || args[0] == "show" {
		fmt.Printf("nickname: %s\n", cfg.Nickname)
		fmt.Printf("port:     %d\n", cfg.Port)
		return true
	}

	if args[0] == "set" && len(args) > 2 {
		switch args[1] {
		case "nickname":
			cfg.Nickname = args[2]
		case "port":
			var port int
			if _, err := fmt.Sscanf(args[2], "%d", &port); err != nil {
				fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", args[2], err)
				os.Exit(1)
			}
			cfg.Port = port
		default:
			fmt.Fprintf(os.Stderr, "unknown config key %q\n", args[1])
			os.Exit(1)
		}
		saveFileConfig(cfg)
		fmt.Printf("saved %s = %s\n", args[1], args[2])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: lanchat config [show|set <nickname|port> <value>]\n")
	os.Exit(1)
	return true
}
