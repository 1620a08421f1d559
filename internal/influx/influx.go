// Package influx writes entity snapshots and automation events to InfluxDB
// as line protocol.
package influx

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"go.uber.org/zap"

	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/core"
)

// Writer is the blocking write surface of the InfluxDB client.
type Writer interface {
	WriteRecord(ctx context.Context, line ...string) error
}

// Point is one line protocol record.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Sink batches points per call and writes them with one request.
type Sink struct {
	writer      Writer
	measurement string
	logger      *zap.Logger
	now         func() time.Time
	close       func()
}

// New connects to the server in cfg. The token is read from cfg.TokenFile.
func New(cfg config.InfluxConfig, logger *zap.Logger) (*Sink, error) {
	token := ""
	if cfg.TokenFile != "" {
		value, err := config.ReadSecretFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("influx token: %w", err)
		}
		token = value
	}
	client := influxdb2.NewClient(cfg.URL, token)
	sink := NewSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement, logger)
	sink.close = client.Close
	return sink, nil
}

func NewSink(writer Writer, measurement string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if measurement == "" {
		measurement = "zenwifi_thermostat"
	}
	return &Sink{
		writer:      writer,
		measurement: measurement,
		logger:      logger.Named("influx"),
		now:         time.Now,
	}
}

func (s *Sink) Close() {
	if s.close != nil {
		s.close()
	}
}

// WriteStates writes one point per device. Unavailable entities and
// entities without a value are left out; a device with nothing to report
// is skipped.
func (s *Sink) WriteStates(ctx context.Context, states []core.EntityState) error {
	at := s.now()
	points := make(map[string]*Point)
	order := make([]string, 0)
	for _, state := range states {
		if !state.Available || state.State == nil {
			continue
		}
		point := points[state.DeviceID]
		if point == nil {
			point = &Point{
				Measurement: s.measurement,
				Tags:        map[string]string{"device_id": state.DeviceID, "device_name": state.Device.Name},
				Fields:      make(map[string]any),
				Time:        at,
			}
			points[state.DeviceID] = point
			order = append(order, state.DeviceID)
		}
		if state.Platform == core.PlatformClimate {
			point.Fields["hvac_mode"] = state.State
			for _, key := range []string{"hvac_action", "temperature", "zen_mode"} {
				if value, ok := state.Attributes[key]; ok && value != nil {
					point.Fields[key] = value
				}
			}
			continue
		}
		point.Fields[state.Key] = state.State
	}

	lines := make([]string, 0, len(order))
	for _, id := range order {
		line, err := points[id].Line()
		if err != nil {
			s.logger.Debug("skipping point", zap.String("device_id", id), zap.Error(err))
			continue
		}
		lines = append(lines, line)
	}
	return s.write(ctx, lines)
}

// WritePoints writes arbitrary points, for example automation events.
func (s *Sink) WritePoints(ctx context.Context, points ...Point) error {
	lines := make([]string, 0, len(points))
	for _, point := range points {
		if point.Measurement == "" {
			point.Measurement = s.measurement + "_event"
		}
		if point.Time.IsZero() {
			point.Time = s.now()
		}
		line, err := point.Line()
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	return s.write(ctx, lines)
}

func (s *Sink) write(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if err := s.writer.WriteRecord(ctx, lines...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	s.logger.Debug("wrote points", zap.Int("count", len(lines)))
	return nil
}

// Line renders the point. Fields of unsupported types are dropped; a point
// left without fields is an error.
func (p Point) Line() (string, error) {
	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(p.Measurement))

	tagKeys := sortedKeys(p.Tags)
	for _, key := range tagKeys {
		value := p.Tags[key]
		if value == "" {
			continue
		}
		b.WriteByte(',')
		b.WriteString(tagEscaper.Replace(key))
		b.WriteByte('=')
		b.WriteString(tagEscaper.Replace(value))
	}

	written := 0
	for _, key := range sortedKeys(p.Fields) {
		value, ok := fieldValue(p.Fields[key])
		if !ok {
			continue
		}
		if written == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(tagEscaper.Replace(key))
		b.WriteByte('=')
		b.WriteString(value)
		written++
	}
	if written == 0 {
		return "", fmt.Errorf("point %s has no fields", p.Measurement)
	}
	if !p.Time.IsZero() {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(p.Time.UnixNano(), 10))
	}
	return b.String(), nil
}

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
	tagEscaper         = strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`)
	stringEscaper      = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

func fieldValue(v any) (string, bool) {
	switch value := v.(type) {
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case *float64:
		if value == nil {
			return "", false
		}
		return strconv.FormatFloat(*value, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32), true
	case int:
		return strconv.Itoa(value) + "i", true
	case int64:
		return strconv.FormatInt(value, 10) + "i", true
	case bool:
		return strconv.FormatBool(value), true
	case string:
		return `"` + stringEscaper.Replace(value) + `"`, true
	case fmt.Stringer:
		return `"` + stringEscaper.Replace(value.String()) + `"`, true
	default:
		return "", false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
