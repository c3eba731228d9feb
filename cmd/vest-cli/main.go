package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

type command struct {
	usage string
	run   func(c *cli, args []string) int
}

var commands = map[string]command{
	"generate-key": {"generate-key --out <file>", runGenerateKey},
	"address":      {"address --keystore <file>", runAddress},
	"token":        {"token --secret <hmac> (--subject <addr> | --keystore <file>) [--scope admin] [--ttl 1h]", runToken},
	"pool":         {"pool", runPool},
	"accounts":     {"accounts", runAccounts},
	"account":      {"account --address <addr>", runAccount},
	"claimable":    {"claimable --address <addr>", runClaimable},
	"reserve":      {"reserve --beneficiary <addr> --amount <amount>", runReserve},
	"claim":        {"claim --amount <amount>", runClaim},
	"withdraw":     {"withdraw", runWithdraw},
	"schedule":     {"schedule --kind reserve|withdraw [--beneficiary <addr> --amount <amount>]", runSchedule},
	"execute":      {"execute (--id <hex> | --kind <kind> --proposer <addr> [--beneficiary <addr> --amount <amount>])", runExecute},
	"cancel":       {"cancel (--id <hex> | --kind <kind> --proposer <addr> [--beneficiary <addr> --amount <amount>])", runCancel},
	"action":       {"action --id <hex>", runAction},
	"grant-role":   {"grant-role --account <addr> --role admin|manager", runRole(true)},
	"revoke-role":  {"revoke-role --account <addr> --role admin|manager", runRole(false)},
	"events":       {"events [--type <type>] [--beneficiary <addr>] [--after <seq>] [--limit <n>]", runEvents},
	"export":       {"export [--remote] [--driver sqlite --dsn <path>] [--out <dir>] [--name <file>]", runExport},
}

// cli carries the global flags shared by every subcommand.
type cli struct {
	api      string
	token    string
	caller   string
	decimals int32
	stdout   io.Writer
	stderr   io.Writer
	client   *http.Client
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr, client: &http.Client{Timeout: 30 * time.Second}}
	fs := flag.NewFlagSet("vest-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	fs.StringVar(&c.api, "api", envOr("VEST_API_URL", "http://localhost:8080"), "daemon base URL")
	fs.StringVar(&c.token, "token", os.Getenv("VEST_TOKEN"), "bearer token for authenticated endpoints")
	fs.StringVar(&c.caller, "caller", os.Getenv("VEST_CALLER"), "caller address sent when the daemon runs without auth")
	decimals := fs.Int("decimals", 0, "token decimals used to scale amounts for display and input")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *decimals < 0 || *decimals > 36 {
		fmt.Fprintln(stderr, "Error: --decimals must be between 0 and 36")
		return 2
	}
	c.decimals = int32(*decimals)
	c.api = strings.TrimRight(strings.TrimSpace(c.api), "/")

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		printUsage(stderr)
		return 2
	}
	return cmd.run(c, rest[1:])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: vest-cli [--api URL] [--token JWT] [--caller ADDR] [--decimals N] <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) fail(format string, args ...interface{}) int {
	fmt.Fprintf(c.stderr, "Error: "+format+"\n", args...)
	return 1
}

func parseFlags(c *cli, fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		c.fail("unexpected positional arguments %v", fs.Args())
		return false
	}
	return true
}
