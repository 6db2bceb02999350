// kahlohostctl is a thin CLI client for kahlohostd's HTTP admin/debug
// mirror, for manual operator use and scripting.
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	switch args[0] {
	case "devices":
		return runDevices(args[1:])
	case "targets":
		return runTargets(args[1:])
	case "jobs":
		return runJobs(args[1:])
	case "events":
		return runEvents(args[1:])
	case "artifacts":
		return runArtifacts(args[1:])
	case "modules":
		return runModules(args[1:])
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: kahlohostctl <command> [options]")
	fmt.Fprintln(os.Stderr, "Commands: devices, targets, jobs, events, artifacts, modules")
	fmt.Fprintln(os.Stderr, "Each command takes -addr (default http://127.0.0.1:8787); run '<command>' with no arguments for its usage.")
}
