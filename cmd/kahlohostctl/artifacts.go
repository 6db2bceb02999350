package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
)

func runArtifacts(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: kahlohostctl artifacts <list|get> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		flags := flag.NewFlagSet("artifacts list", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		targetID := flags.String("target", "", "target id")
		jobID := flags.String("job", "", "job id")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		if *targetID == "" && *jobID == "" {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl artifacts list -target <target_id>|-job <job_id>")
			return 2
		}
		q := url.Values{}
		if *targetID != "" {
			q.Set("target_id", *targetID)
		}
		if *jobID != "" {
			q.Set("job_id", *jobID)
		}
		return call(*addr, http.MethodGet, "/api/v1/artifacts?"+q.Encode(), nil)
	case "get":
		flags := flag.NewFlagSet("artifacts get", flag.ContinueOnError)
		flags.SetOutput(os.Stderr)
		addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
		if err := flags.Parse(rest); err != nil {
			return 2
		}
		if flags.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: kahlohostctl artifacts get <artifact_id>")
			return 2
		}
		return call(*addr, http.MethodGet, "/api/v1/artifacts/"+flags.Arg(0), nil)
	default:
		fmt.Fprintf(os.Stderr, "Unknown artifacts subcommand: %s\n", sub)
		return 2
	}
}
