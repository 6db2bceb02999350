package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
)

func runDevices(args []string) int {
	flags := flag.NewFlagSet("devices", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	addr := flags.String("addr", defaultAddr, "kahlohostd admin address")

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: kahlohostctl devices <list|get|health|processes|adb> [args]")
		return 2
	}

	sub, rest := args[0], args[1:]
	if err := flags.Parse(rest); err != nil {
		return 2
	}

	switch sub {
	case "list":
		return call(*addr, http.MethodGet, "/api/v1/devices", nil)
	case "get":
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl devices get <device_id>")
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/devices/"+flags.Arg(0), nil)
	case "health":
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl devices health <device_id>")
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/devices/"+flags.Arg(0)+"/health", nil)
	case "processes":
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl devices processes <device_id>")
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/devices/"+flags.Arg(0)+"/processes", nil)
	case "adb":
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl devices adb <device_id> [args...]")
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/adb/exec", map[string]any{
			"device_id": flags.Arg(0),
			"args":      flags.Args()[1:],
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown devices subcommand: %s\n", sub)
		return 2
	}
}
