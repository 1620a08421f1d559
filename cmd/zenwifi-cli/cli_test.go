package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/DanrwAU/zenwifi/plugins/zenwifi"
)

func testViews() []zenwifi.ClimateView {
	hall := zenwifi.ClimateView{Available: true}
	hall.ID, hall.Name = "1", "Hall Thermostat"
	bedroom := zenwifi.ClimateView{}
	bedroom.ID, bedroom.Name = "2", "Bedroom"
	return []zenwifi.ClimateView{hall, bedroom}
}

func TestResolveThermostat(t *testing.T) {
	views := testViews()
	cases := map[string]string{
		"1":               "1",
		"hall_thermostat": "1",
		"Hall-Thermostat": "1",
		" bedroom ":       "2",
	}
	for input, want := range cases {
		got, err := resolveThermostat(input, views)
		if err != nil || got != want {
			t.Fatalf("resolveThermostat(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
}

func TestResolveThermostatErrors(t *testing.T) {
	_, err := resolveThermostat("attic", testViews())
	if err == nil || !strings.Contains(err.Error(), "Available: Bedroom (2), Hall Thermostat (1)") {
		t.Fatalf("unexpected error %v", err)
	}

	dup := append(testViews(), zenwifi.ClimateView{})
	dup[2].ID, dup[2].Name = "3", "bedroom"
	if _, err := resolveThermostat("Bedroom", dup); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
}

func TestThermostatRowsTable(t *testing.T) {
	views := testViews()
	current := 19.5
	views[0].CurrentTemperature = &current
	views[0].HVACMode = zenwifi.HVACMode("heat")

	var buf bytes.Buffer
	out := outputMode{w: &buf}
	out.table(thermostatRows(views))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[1], "19.5°C") || !strings.Contains(lines[2], "-") {
		t.Fatalf("unexpected table %q", buf.String())
	}
}

func TestDialAddr(t *testing.T) {
	cases := map[string]string{
		"0.0.0.0:9000":   "localhost:9000",
		":9000":          "localhost:9000",
		"[::]:9000":      "localhost:9000",
		"zenwifi:9000":   "zenwifi:9000",
		"10.0.0.2:19000": "10.0.0.2:19000",
	}
	for in, want := range cases {
		if got := dialAddr(in); got != want {
			t.Fatalf("dialAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
