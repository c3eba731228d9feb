package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vestchain/gateway/auth"
	"vestchain/gateway/middleware"
)

// amountFields are rescaled by --decimals when printing responses.
var amountFields = map[string]bool{
	"cap":            true,
	"totalPurchased": true,
	"available":      true,
	"purchased":      true,
	"claimed":        true,
	"remaining":      true,
	"claimable":      true,
	"amount":         true,
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// call issues a JSON request against the daemon. Mutating requests carry a
// fresh nonce so the replay guard accepts retries of distinct commands.
func (c *cli) call(method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.api + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(c.token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if caller := strings.TrimSpace(c.caller); caller != "" {
		req.Header.Set(middleware.HeaderCaller, caller)
	}
	if method != http.MethodGet {
		req.Header.Set(auth.HeaderNonce, uuid.NewString())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// request performs call and prints the response with amounts rescaled.
func (c *cli) request(method, path string, query url.Values, body interface{}) int {
	var out interface{}
	if err := c.call(method, path, query, body, &out); err != nil {
		return c.fail("%v", err)
	}
	c.print(out)
	return 0
}

func (c *cli) print(v interface{}) {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(c.scale(v))
}

func (c *cli) scale(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		for key, value := range typed {
			if s, ok := value.(string); ok && amountFields[key] {
				typed[key] = formatUnits(s, c.decimals)
				continue
			}
			typed[key] = c.scale(value)
		}
		return typed
	case []interface{}:
		for i := range typed {
			typed[i] = c.scale(typed[i])
		}
		return typed
	default:
		return v
	}
}

// formatUnits renders a base unit integer with the given number of decimals.
// Values that do not parse are returned unchanged.
func formatUnits(raw string, decimals int32) string {
	value, err := decimal.NewFromString(raw)
	if err != nil || decimals == 0 {
		return raw
	}
	return value.Shift(-decimals).String()
}

// parseUnits converts a human amount into base units.
func parseUnits(raw string, decimals int32) (string, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	scaled := value.Shift(decimals)
	if !scaled.IsInteger() {
		return "", fmt.Errorf("amount %q has more than %d decimal places", raw, decimals)
	}
	if scaled.Sign() <= 0 {
		return "", fmt.Errorf("amount %q must be positive", raw)
	}
	return scaled.BigInt().String(), nil
}
