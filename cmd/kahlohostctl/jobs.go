package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
)

func runJobs(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: kahlohostctl jobs <start|status|list|cancel|promote> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "start":
		flags := flag.NewFlagSet("jobs start", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		targetID := flags.String("target", "", "target id")
		jobType := flags.String("type", "oneshot", "oneshot, interactive or daemon")
		kind := flags.String("kind", "source", "module bootstrap kind: source or module_ref")
		source := flags.String("source", "", "inline script source (kind=source)")
		ref := flags.String("ref", "", "module reference name@version (kind=module_ref)")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/jobs", map[string]any{
			"target_id": *targetID,
			"type":      *jobType,
			"module": map[string]any{
				"kind":   *kind,
				"source": *source,
				"ref":    *ref,
			},
		})
	case "status":
		flags, addr := jobsSimpleFlags(rest)
		if flags == nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl jobs status <job_id>")
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/jobs/"+flags.Arg(0), nil)
	case "list":
		flags := flag.NewFlagSet("jobs list", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		targetID := flags.String("target", "", "filter by target id")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		q := url.Values{}
		if *targetID != "" {
			q.Set("target_id", *targetID)
		}
		path := "/api/v1/jobs"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		return call(*addr, http.MethodGet, path, nil)
	case "cancel":
		flags, addr := jobsSimpleFlags(rest)
		if flags == nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl jobs cancel <job_id>")
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/jobs/"+flags.Arg(0)+"/cancel", nil)
	case "promote":
		flags := flag.NewFlagSet("jobs promote", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		name := flags.String("name", "", "module name")
		strategy := flags.String("strategy", "", "version bump strategy")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl jobs promote <job_id> -name <name>")
			return 2
		}
		return call(*addr, http.MethodPost, "/api/v1/jobs/"+flags.Arg(0)+"/promote", map[string]any{
			"name":     *name,
			"strategy": *strategy,
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown jobs subcommand: %s\n", sub)
		return 2
	}
}

func jobsSimpleFlags(args []string) (*flag.FlagSet, *string) {
	flags := flag.NewFlagSet("jobs", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
	if err := flags.Parse(args); err != nil {
		return nil, nil
	}
	return flags, addr
}
