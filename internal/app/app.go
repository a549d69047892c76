package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "catalog":
		return runCatalog(args[1:])
	case "match", "run-once":
		return runMatch(args[1:])
	case "events":
		return runEvents(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "insurewatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  insurewatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health          Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  validate        Validate article batch files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  catalog import  Load insurers from a YAML file into the database")
	fmt.Fprintln(os.Stderr, "  catalog list    Print the active insurer catalog")
	fmt.Fprintln(os.Stderr, "  match           Match one article batch against the catalog")
	fmt.Fprintln(os.Stderr, "  run-once        Alias for match")
	fmt.Fprintln(os.Stderr, "  events          List recent AI API events")
	fmt.Fprintln(os.Stderr, "  serve           Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"insurewatch <command> -h\" for command-specific flags.")
}
