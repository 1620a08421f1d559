package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/DanrwAU/zenwifi/plugins/zenwifi"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveThermostat maps a device id or a loosely typed name onto a
// device id. Names that match more than one thermostat are rejected.
func resolveThermostat(input string, views []zenwifi.ClimateView) (string, error) {
	for _, v := range views {
		if v.ID == strings.TrimSpace(input) {
			return v.ID, nil
		}
	}

	needle := normalizeName(input)
	var matches []string
	available := make([]string, 0, len(views))
	for _, v := range views {
		available = append(available, fmt.Sprintf("%s (%s)", v.Name, v.ID))
		if normalizeName(v.Name) == needle {
			matches = append(matches, v.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		sort.Strings(available)
		return "", fmt.Errorf("thermostat %q not found. Available: %s", input, strings.Join(available, ", "))
	default:
		return "", fmt.Errorf("thermostat %q is ambiguous, use one of the ids: %s", input, strings.Join(matches, ", "))
	}
}
