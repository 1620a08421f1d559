package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/core"
	"github.com/DanrwAU/zenwifi/internal/hassmqtt"
	"github.com/DanrwAU/zenwifi/internal/influx"
	"github.com/DanrwAU/zenwifi/internal/server"
	"github.com/DanrwAU/zenwifi/plugins/zenwifi"
)

const writeTimeout = 10 * time.Second

// outputs pushes coordinator updates and trigger events to the websocket
// hub and, when configured, MQTT and InfluxDB.
type outputs struct {
	plugins []core.Plugin
	hub     *server.Hub
	mqtt    *hassmqtt.Client
	bridge  *hassmqtt.Bridge
	influx  *influx.Sink
	logger  *zap.Logger
}

func newOutputs(ctx context.Context, cfg *config.Config, plugin *zenwifi.Plugin, hub *server.Hub, plugins []core.Plugin, logger *zap.Logger) (*outputs, error) {
	o := &outputs{plugins: plugins, hub: hub, logger: logger}

	if cfg.MQTT.Enabled() {
		client, err := hassmqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		o.mqtt = client
		o.bridge = hassmqtt.NewBridge(client, plugin, plugin.Entities(), hassmqtt.Options{
			Prefix:          cfg.MQTT.Prefix,
			Discovery:       cfg.MQTT.Discovery,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			Logger:          logger,
		})
		if err := o.bridge.Start(ctx); err != nil {
			o.Close()
			return nil, fmt.Errorf("mqtt bridge: %w", err)
		}
	}

	if cfg.Influx.Enabled() {
		sink, err := influx.New(cfg.Influx, logger)
		if err != nil {
			o.Close()
			return nil, err
		}
		o.influx = sink
	}
	return o, nil
}

func (o *outputs) forward(ctx context.Context, updates <-chan zenwifi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			o.update(ctx, update)
		}
	}
}

func (o *outputs) update(ctx context.Context, update zenwifi.Update) {
	states := server.EntityStates(o.plugins)
	if err := o.hub.Broadcast(server.Message{Type: "update", Time: update.Time, Data: states}); err != nil {
		o.logger.Warn("websocket broadcast failed", zap.Error(err))
	}
	if o.bridge != nil {
		if err := o.bridge.PublishStates(); err != nil {
			o.logger.Warn("mqtt state publish failed", zap.Error(err))
		}
	}
	if o.influx != nil && update.Success {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := o.influx.WriteStates(writeCtx, states); err != nil {
			o.logger.Warn("influx write failed", zap.Error(err))
		}
	}
}

func (o *outputs) event(ctx context.Context, event zenwifi.Event) {
	if err := o.hub.Broadcast(server.Message{Type: "event", Time: event.Time, Data: event}); err != nil {
		o.logger.Warn("websocket broadcast failed", zap.Error(err))
	}
	if o.bridge != nil {
		if err := o.bridge.PublishEvent(string(event.DeviceID), event); err != nil {
			o.logger.Warn("mqtt event publish failed", zap.Error(err))
		}
	}
	if o.influx != nil {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := o.influx.WritePoints(writeCtx, eventPoint(event)); err != nil {
			o.logger.Warn("influx event write failed", zap.Error(err))
		}
	}
}

func eventPoint(event zenwifi.Event) influx.Point {
	fields := map[string]any{"fired": true}
	if event.From != "" {
		fields["from"] = event.From
	}
	if event.To != "" {
		fields["to"] = event.To
	}
	if event.Temperature != nil {
		fields["temperature"] = *event.Temperature
	}
	return influx.Point{
		Tags: map[string]string{
			"device_id": string(event.DeviceID),
			"trigger":   event.Trigger,
			"type":      string(event.Type),
		},
		Fields: fields,
		Time:   event.Time,
	}
}

func (o *outputs) Close() {
	if o.bridge != nil {
		o.bridge.Stop()
	}
	if o.mqtt != nil {
		o.mqtt.Close()
	}
	if o.influx != nil {
		o.influx.Close()
	}
}
