package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"vestchain/cmd/internal/passphrase"
	"vestchain/crypto"
	"vestchain/gateway/auth"
)

func runGenerateKey(c *cli, args []string) int {
	fs := c.flags("generate-key")
	out := fs.String("out", "operator.keystore", "keystore file to create")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if !parseFlags(c, fs, args) {
		return 1
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return c.fail("%s already exists; pass --force to overwrite", *out)
	}
	pass, err := passphrase.NewSource(passphrase.DefaultEnvVar, "keystore").WithConfirmation().Get()
	if err != nil {
		return c.fail("%v", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail("generate key: %v", err)
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return c.fail("save keystore: %v", err)
	}
	fmt.Fprintf(c.stdout, "Address: %s\nKeystore: %s\n", key.PubKey().Address().String(), *out)
	return 0
}

func loadKeystoreAddress(path string) ([20]byte, error) {
	pass, err := passphrase.NewSource(passphrase.DefaultEnvVar, "keystore").Get()
	if err != nil {
		return [20]byte{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return [20]byte{}, err
	}
	return key.PubKey().Address().Array(), nil
}

func runAddress(c *cli, args []string) int {
	fs := c.flags("address")
	path := fs.String("keystore", "", "keystore file")
	if !parseFlags(c, fs, args) {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		return c.fail("--keystore is required")
	}
	addr, err := loadKeystoreAddress(*path)
	if err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintln(c.stdout, crypto.AddressFromArray(addr).String())
	return 0
}

func runToken(c *cli, args []string) int {
	fs := c.flags("token")
	secret := fs.String("secret", os.Getenv("VEST_JWT_SECRET"), "shared HMAC secret")
	issuer := fs.String("issuer", "vestd", "token issuer")
	audience := fs.String("audience", "vestchain", "token audience")
	subject := fs.String("subject", "", "subject address")
	keystorePath := fs.String("keystore", "", "derive the subject from this keystore")
	scope := fs.String("scope", "", "comma separated scopes, e.g. admin")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if !parseFlags(c, fs, args) {
		return 1
	}

	var (
		addr [20]byte
		err  error
	)
	switch {
	case strings.TrimSpace(*subject) != "":
		addr, err = crypto.ParseAddress(strings.TrimSpace(*subject))
	case strings.TrimSpace(*keystorePath) != "":
		addr, err = loadKeystoreAddress(*keystorePath)
	default:
		return c.fail("--subject or --keystore is required")
	}
	if err != nil {
		return c.fail("%v", err)
	}

	issuerSvc, err := auth.NewIssuer(*secret, *issuer, *audience)
	if err != nil {
		return c.fail("%v", err)
	}
	var scopes []string
	for _, s := range strings.Split(*scope, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	token, err := issuerSvc.Mint(addr, *ttl, scopes...)
	if err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintln(c.stdout, token)
	return 0
}
