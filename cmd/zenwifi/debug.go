package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/logging"
	"github.com/DanrwAU/zenwifi/internal/oauthflow"
	"github.com/DanrwAU/zenwifi/plugins/zenwifi"
)

const debugBlobName = "debug_output.json"

type debugDevice struct {
	Device zenwifi.Device  `json:"device"`
	Status *zenwifi.Status `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type debugDump struct {
	GeneratedAt time.Time      `json:"generated_at"`
	UserInfo    map[string]any `json:"user_info"`
	Devices     []debugDevice  `json:"devices"`
}

// debugCmd logs in with a scratch token state, dumps what the account
// returns and optionally uploads the dump to the blob store.
func debugCmd(configPath string, args []string) {
	flags := flag.NewFlagSet("debug", flag.ExitOnError)
	outPath := flags.String("out", debugBlobName, "Where to write the dump")
	upload := flags.Bool("upload", false, "Also upload the dump to the blob store")
	timeout := flags.Duration("timeout", 2*time.Minute, "Timeout for the dump")
	_ = flags.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("debug", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fatal("debug", err)
	}
	sugar := logger.Sugar()
	defer func() { _ = sugar.Sync() }()

	zenCfg, err := zenwifi.ConfigFromApp(cfg)
	if err != nil {
		fatal("debug", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	httpClient := zenwifi.NewHTTPClient(zenCfg)
	session, err := oauthflow.Begin(ctx, zenCfg.OAuthDeclaration(), zenCfg.Credentials, httpClient, logger)
	if err != nil {
		fatal("debug", err)
	}
	defer session.Close()

	client, err := zenwifi.NewClient(zenCfg, session.Manager, httpClient, logger)
	if err != nil {
		fatal("debug", err)
	}
	dump, err := collectDebug(ctx, client)
	if err != nil {
		fatal("debug", err)
	}
	sugar.Infof("account has %d devices", len(dump.Devices))
	for _, d := range dump.Devices {
		if d.Error != "" {
			sugar.Warnf("device %s (%s): %s", d.Device.ID, d.Device.Name, d.Error)
			continue
		}
		sugar.Infof("device %s (%s): online=%v", d.Device.ID, d.Device.Name, d.Status.IsOnline != nil && *d.Status.IsOnline)
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		fatal("debug", err)
	}
	if err := os.WriteFile(*outPath, data, 0o600); err != nil {
		fatal("debug", err)
	}
	sugar.Infof("wrote %s", *outPath)

	if *upload {
		blob, err := blobStore(cfg.OAuth)
		if err != nil {
			fatal("debug", err)
		}
		if blob == nil {
			fatal("debug", fmt.Errorf("upload requested but oauth.blob_bucket is not configured"))
		}
		if err := blob.Save(ctx, debugBlobName, data); err != nil {
			fatal("debug", err)
		}
		sugar.Infof("uploaded %s", debugBlobName)
	}
}

// debugClient is the read surface a dump needs.
type debugClient interface {
	UserInfo(ctx context.Context) (map[string]any, error)
	Devices(ctx context.Context) ([]zenwifi.Device, error)
	DeviceStatus(ctx context.Context, id zenwifi.DeviceID) (zenwifi.Status, error)
}

// collectDebug fails only when the account or device list cannot be read;
// per-device status errors are recorded in the dump.
func collectDebug(ctx context.Context, client debugClient) (debugDump, error) {
	info, err := client.UserInfo(ctx)
	if err != nil {
		return debugDump{}, fmt.Errorf("user info: %w", err)
	}
	devices, err := client.Devices(ctx)
	if err != nil {
		return debugDump{}, fmt.Errorf("devices: %w", err)
	}

	dump := debugDump{GeneratedAt: time.Now().UTC(), UserInfo: info, Devices: make([]debugDevice, 0, len(devices))}
	for _, device := range devices {
		entry := debugDevice{Device: device}
		status, err := client.DeviceStatus(ctx, device.ID)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Status = &status
		}
		dump.Devices = append(dump.Devices, entry)
	}
	return dump, nil
}
