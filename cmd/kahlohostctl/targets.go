package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
)

func runTargets(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: kahlohostctl targets <ensure|status|detach|snapshot> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "ensure":
		flags := flag.NewFlagSet("targets ensure", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		deviceID := flags.String("device", "", "device id")
		pkg := flags.String("package", "", "Android package name")
		mode := flags.String("mode", "attach", "attach or spawn")
		gating := flags.String("gating", "none", "gating mode")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/targets", map[string]any{
			"device_id": *deviceID,
			"package":   *pkg,
			"mode":      *mode,
			"gating":    *gating,
		})
	case "status":
		flags, addr := targetsSimpleFlags(rest)
		if flags == nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl targets status <target_id>")
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/targets/"+flags.Arg(0), nil)
	case "detach":
		flags, addr := targetsSimpleFlags(rest)
		if flags == nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl targets detach <target_id>")
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/targets/"+flags.Arg(0)+"/detach", nil)
	case "snapshot":
		flags := flag.NewFlagSet("targets snapshot", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		kind := flags.String("kind", "heap", "snapshot kind")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl targets snapshot <target_id> -kind <kind>")
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/targets/"+flags.Arg(0)+"/snapshot", map[string]any{
			"kind": *kind,
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown targets subcommand: %s\n", sub)
		return 2
	}
}

func targetsSimpleFlags(args []string) (*flag.FlagSet, *string) {
	flags := flag.NewFlagSet("targets", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
	if err := flags.Parse(args); err != nil {
		return nil, nil
	}
	return flags, addr
}
