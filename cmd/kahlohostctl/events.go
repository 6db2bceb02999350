package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
)

func runEvents(args []string) int {
	flags := flag.NewFlagSet("events", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	addr := flags.String("addr", defaultAddr, "kahlohostd admin address")
	targetID := flags.String("target", "", "target id")
	jobID := flags.String("job", "", "job id")
	cursor := flags.String("cursor", "", "pagination cursor")
	limit := flags.Int("limit", 0, "page size")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *targetID == "" && *jobID == "" {
		fmt.Fprintln(os.Stderr, "Usage: kahlohostctl events -target <target_id>|-job <job_id> [-cursor ...] [-limit ...]")
		return 2
	}

	q := url.Values{}
	if *targetID != "" {
		q.Set("target_id", *targetID)
	}
	if *jobID != "" {
		q.Set("job_id", *jobID)
	}
	if *cursor != "" {
		q.Set("cursor", *cursor)
	}
	if *limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", *limit))
	}

	return call(*addr, http.MethodGet, "/api/v1/events?"+q.Encode(), nil)
}
