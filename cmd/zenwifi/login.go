package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/oauth"
	"github.com/DanrwAU/zenwifi/internal/oauthflow"
	"github.com/DanrwAU/zenwifi/plugins/zenwifi"
)

type loginOutput struct {
	Username   string `json:"username"`
	ConsumerID string `json:"consumer_id,omitempty"`
	StatePath  string `json:"state_path,omitempty"`
	BlobSaved  bool   `json:"blob_saved"`
	Error      string `json:"error,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// loginCmd checks the configured credentials against the account and
// persists the resulting token state.
func loginCmd(configPath string, args []string) {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	jsonOut := flags.Bool("json", false, "Output JSON to stdout")
	statePath := flags.String("state-path", "", "Override persisted state path")
	skipBlob := flags.Bool("skip-blob", false, "Skip blob storage persistence")
	timeout := flags.Duration("timeout", time.Minute, "Timeout for the login")
	_ = flags.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("login", err)
	}
	zenCfg, err := zenwifi.ConfigFromApp(cfg)
	if err != nil {
		fatal("login", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	output, err := login(ctx, cfg, zenCfg, oauthflow.PersistOptions{StatePathOverride: *statePath, SkipBlob: *skipBlob})
	if err != nil {
		output.Error = err.Error()
		output.Reason = loginReason(err)
	}
	emitLoginOutput(output, *jsonOut)
	if err != nil {
		os.Exit(1)
	}
}

func login(ctx context.Context, cfg *config.Config, zenCfg zenwifi.Config, opts oauthflow.PersistOptions) (loginOutput, error) {
	output := loginOutput{Username: zenCfg.Credentials.Username}
	decl := zenCfg.OAuthDeclaration()
	httpClient := zenwifi.NewHTTPClient(zenCfg)

	session, err := oauthflow.Begin(ctx, decl, zenCfg.Credentials, httpClient, nil)
	if err != nil {
		return output, err
	}
	defer session.Close()

	client, err := zenwifi.NewClient(zenCfg, session.Manager, httpClient, nil)
	if err != nil {
		return output, err
	}
	consumerID, err := client.ConsumerID(ctx)
	if err != nil {
		return output, err
	}
	output.ConsumerID = consumerID

	var blob oauth.BlobStore
	if !opts.SkipBlob {
		if blob, err = blobStore(cfg.OAuth); err != nil {
			return output, err
		}
	}
	result, err := session.Persist(ctx, decl, blob, opts)
	if err != nil {
		return output, err
	}
	output.StatePath = result.StatePath
	output.BlobSaved = result.BlobSaved
	return output, nil
}

// loginReason classifies a login failure as invalid_auth, cannot_connect
// or unknown.
func loginReason(err error) string {
	var urlErr *url.Error
	switch {
	case errors.Is(err, zenwifi.ErrAuthentication), errors.Is(err, oauth.ErrInvalidCredentials):
		return "invalid_auth"
	case errors.Is(err, zenwifi.ErrCommunication), errors.As(err, &urlErr), errors.Is(err, context.DeadlineExceeded):
		return "cannot_connect"
	default:
		return "unknown"
	}
}

func emitLoginOutput(output loginOutput, jsonOut bool) {
	if jsonOut {
		payload, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			fatal("login", err)
		}
		fmt.Fprintln(os.Stdout, string(payload))
		return
	}

	if output.Error != "" {
		fmt.Fprintf(os.Stderr, "login failed (%s): %s\n", output.Reason, output.Error)
		return
	}
	fmt.Printf("Logged in as %s (consumer %s)\n", output.Username, output.ConsumerID)
	fmt.Printf("State file: %s\n", output.StatePath)
	fmt.Printf("Blob persisted: %t\n", output.BlobSaved)
}
