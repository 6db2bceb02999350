package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
)

func runModules(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: kahlohostctl modules <list|get|drafts|get-draft|create-draft|update-draft|promote-draft> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		flags, addr := modulesSimpleFlags(rest)
		if flags == nil {
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/modules", nil)
	case "get":
		flags, addr := modulesSimpleFlags(rest)
		if flags == nil {
			return 2
		}
		if flags.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl modules get <name> <version>")
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/modules/"+flags.Arg(0)+"/"+flags.Arg(1), nil)
	case "drafts":
		flags, addr := modulesSimpleFlags(rest)
		if flags == nil {
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/drafts", nil)
	case "get-draft":
		flags, addr := modulesSimpleFlags(rest)
		if flags == nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl modules get-draft <draft_id>")
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/drafts/"+flags.Arg(0), nil)
	case "create-draft":
		flags := flag.NewFlagSet("modules create-draft", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		name := flags.String("name", "", "draft name")
		source := flags.String("source", "", "inline script source")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/drafts", map[string]any{
			"name":   *name,
			"source": *source,
		})
	case "update-draft":
		flags := flag.NewFlagSet("modules update-draft", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		source := flags.String("source", "", "new inline script source")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl modules update-draft <draft_id> -source <source>")
			return 2
		}
		return call(*addr, http.MethodPatch, "/api/v1/drafts/"+flags.Arg(0), map[string]any{
			"source": *source,
		})
	case "promote-draft":
		flags := flag.NewFlagSet("modules promote-draft", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		name := flags.String("name", "", "module name")
		strategy := flags.String("strategy", "", "version bump strategy")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl modules promote-draft <draft_id> -name <name>")
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/drafts/"+flags.Arg(0)+"/promote", map[string]any{
			"name":     *name,
			"strategy": *strategy,
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown modules subcommand: %s\n", sub)
		return 2
	}
}

func modulesSimpleFlags(args []string) (*flag.FlagSet, *string) {
	flags := flag.NewFlagSet("modules", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
	if err := flags.Parse(args); err != nil {
		return nil, nil
	}
	return flags, addr
}
