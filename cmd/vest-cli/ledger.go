package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vestchain/crypto"
	"vestchain/export"
	"vestchain/indexer"
)

func requireAddress(c *cli, name, value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		c.fail("--%s is required", name)
		return "", false
	}
	if _, err := crypto.ParseAddress(trimmed); err != nil {
		c.fail("--%s: %v", name, err)
		return "", false
	}
	return trimmed, true
}

func runPool(c *cli, args []string) int {
	if !parseFlags(c, c.flags("pool"), args) {
		return 1
	}
	return c.request(http.MethodGet, "/v1/pool", nil, nil)
}

func runAccounts(c *cli, args []string) int {
	if !parseFlags(c, c.flags("accounts"), args) {
		return 1
	}
	return c.request(http.MethodGet, "/v1/accounts", nil, nil)
}

func runAccount(c *cli, args []string) int {
	fs := c.flags("account")
	address := fs.String("address", "", "beneficiary address")
	if !parseFlags(c, fs, args) {
		return 1
	}
	addr, ok := requireAddress(c, "address", *address)
	if !ok {
		return 1
	}
	return c.request(http.MethodGet, "/v1/accounts/"+url.PathEscape(addr), nil, nil)
}

func runClaimable(c *cli, args []string) int {
	fs := c.flags("claimable")
	address := fs.String("address", "", "beneficiary address")
	if !parseFlags(c, fs, args) {
		return 1
	}
	addr, ok := requireAddress(c, "address", *address)
	if !ok {
		return 1
	}
	return c.request(http.MethodGet, "/v1/accounts/"+url.PathEscape(addr)+"/claimable", nil, nil)
}

func runReserve(c *cli, args []string) int {
	fs := c.flags("reserve")
	beneficiary := fs.String("beneficiary", "", "beneficiary address")
	amount := fs.String("amount", "", "amount to reserve")
	if !parseFlags(c, fs, args) {
		return 1
	}
	addr, ok := requireAddress(c, "beneficiary", *beneficiary)
	if !ok {
		return 1
	}
	units, err := parseUnits(*amount, c.decimals)
	if err != nil {
		return c.fail("%v", err)
	}
	return c.request(http.MethodPost, "/v1/reserve", nil, map[string]string{"beneficiary": addr, "amount": units})
}

func runClaim(c *cli, args []string) int {
	fs := c.flags("claim")
	amount := fs.String("amount", "", "amount to claim")
	if !parseFlags(c, fs, args) {
		return 1
	}
	units, err := parseUnits(*amount, c.decimals)
	if err != nil {
		return c.fail("%v", err)
	}
	return c.request(http.MethodPost, "/v1/claim", nil, map[string]string{"amount": units})
}

func runWithdraw(c *cli, args []string) int {
	if !parseFlags(c, c.flags("withdraw"), args) {
		return 1
	}
	return c.request(http.MethodPost, "/v1/withdraw", nil, map[string]string{})
}

type actionFlags struct {
	kind        *string
	beneficiary *string
	amount      *string
}

func (a actionFlags) body(c *cli) (map[string]string, bool) {
	kind := strings.ToLower(strings.TrimSpace(*a.kind))
	switch kind {
	case "withdraw":
		return map[string]string{"kind": kind}, true
	case "reserve":
		addr, ok := requireAddress(c, "beneficiary", *a.beneficiary)
		if !ok {
			return nil, false
		}
		units, err := parseUnits(*a.amount, c.decimals)
		if err != nil {
			c.fail("%v", err)
			return nil, false
		}
		return map[string]string{"kind": kind, "beneficiary": addr, "amount": units}, true
	default:
		c.fail("--kind must be reserve or withdraw")
		return nil, false
	}
}

func runSchedule(c *cli, args []string) int {
	fs := c.flags("schedule")
	action := actionFlags{
		kind:        fs.String("kind", "", "reserve or withdraw"),
		beneficiary: fs.String("beneficiary", "", "beneficiary address for reserve"),
		amount:      fs.String("amount", "", "amount for reserve"),
	}
	if !parseFlags(c, fs, args) {
		return 1
	}
	body, ok := action.body(c)
	if !ok {
		return 1
	}
	return c.request(http.MethodPost, "/v1/actions/schedule", nil, body)
}

// runActionByRef posts an action reference, given either as --id or as the
// descriptor plus proposer, to path.
func runActionByRef(name, path string) func(c *cli, args []string) int {
	return func(c *cli, args []string) int {
		fs := c.flags(name)
		id := fs.String("id", "", "hex action id")
		proposer := fs.String("proposer", "", "address that scheduled the action")
		action := actionFlags{
			kind:        fs.String("kind", "", "reserve or withdraw"),
			beneficiary: fs.String("beneficiary", "", "beneficiary address for reserve"),
			amount:      fs.String("amount", "", "amount for reserve"),
		}
		if !parseFlags(c, fs, args) {
			return 1
		}
		if trimmed := strings.TrimSpace(*id); trimmed != "" {
			return c.request(http.MethodPost, path, nil, map[string]string{"id": trimmed})
		}
		body, ok := action.body(c)
		if !ok {
			return 1
		}
		addr, ok := requireAddress(c, "proposer", *proposer)
		if !ok {
			return 1
		}
		body["proposer"] = addr
		return c.request(http.MethodPost, path, nil, body)
	}
}

var (
	runExecute = runActionByRef("execute", "/v1/actions/execute")
	runCancel  = runActionByRef("cancel", "/v1/actions/cancel")
)

func runAction(c *cli, args []string) int {
	fs := c.flags("action")
	id := fs.String("id", "", "hex action id")
	if !parseFlags(c, fs, args) {
		return 1
	}
	if strings.TrimSpace(*id) == "" {
		return c.fail("--id is required")
	}
	return c.request(http.MethodGet, "/v1/actions/"+url.PathEscape(strings.TrimSpace(*id)), nil, nil)
}

func runRole(grant bool) func(c *cli, args []string) int {
	path, name := "/v1/roles/revoke", "revoke-role"
	if grant {
		path, name = "/v1/roles/grant", "grant-role"
	}
	return func(c *cli, args []string) int {
		fs := c.flags(name)
		account := fs.String("account", "", "account address")
		role := fs.String("role", "", "admin or manager")
		if !parseFlags(c, fs, args) {
			return 1
		}
		addr, ok := requireAddress(c, "account", *account)
		if !ok {
			return 1
		}
		if strings.TrimSpace(*role) == "" {
			return c.fail("--role is required")
		}
		return c.request(http.MethodPost, path, nil, map[string]string{"account": addr, "role": strings.TrimSpace(*role)})
	}
}

func runEvents(c *cli, args []string) int {
	fs := c.flags("events")
	eventType := fs.String("type", "", "event type filter, e.g. vesting.claimed")
	beneficiary := fs.String("beneficiary", "", "beneficiary filter")
	after := fs.Uint64("after", 0, "return events after this sequence")
	limit := fs.Int("limit", 0, "maximum events to return")
	if !parseFlags(c, fs, args) {
		return 1
	}
	query := url.Values{}
	if v := strings.TrimSpace(*eventType); v != "" {
		query.Set("type", v)
	}
	if v := strings.TrimSpace(*beneficiary); v != "" {
		query.Set("beneficiary", v)
	}
	if *after > 0 {
		query.Set("after", strconv.FormatUint(*after, 10))
	}
	if *limit > 0 {
		query.Set("limit", strconv.Itoa(*limit))
	}
	return c.request(http.MethodGet, "/v1/events", query, nil)
}

// runExport writes CSV and parquet files either locally from the indexer
// database or, with --remote, through the daemon admin endpoint.
func runExport(c *cli, args []string) int {
	fs := c.flags("export")
	remote := fs.Bool("remote", false, "ask the daemon to export into its data directory")
	driver := fs.String("driver", "sqlite", "indexer database driver")
	dsn := fs.String("dsn", filepath.Join("vest-data", "events.db"), "indexer database DSN")
	out := fs.String("out", "exports", "output directory")
	name := fs.String("name", "", "base file name (default events-<timestamp>)")
	if !parseFlags(c, fs, args) {
		return 1
	}
	if *remote {
		return c.request(http.MethodPost, "/v1/admin/export", nil, map[string]string{})
	}

	store, err := indexer.Open(*driver, *dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return c.fail("%v", err)
	}
	defer store.Close()
	records, err := store.All(context.Background())
	if err != nil {
		return c.fail("%v", err)
	}
	base := strings.TrimSpace(*name)
	if base == "" {
		base = "events-" + time.Now().UTC().Format("20060102T150405Z")
	}
	manifest, err := export.WriteFiles(*out, base, records)
	if err != nil {
		return c.fail("%v", err)
	}
	c.print(manifest)
	fmt.Fprintf(c.stderr, "exported %d events\n", manifest.Rows)
	return 0
}
