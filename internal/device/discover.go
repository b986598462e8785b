package device

import (
	"context"
	"fmt"
	"regexp"
)

// Discoverer finds wireless devices that can be connected to.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// AddressParser extracts connectable addresses from discovery output.
type AddressParser func(output string) []string

var addressRe = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d+)\b`)

// ParseAddresses returns every ip:port in the output, deduplicated, in order
// of first appearance.
func ParseAddresses(output string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range addressRe.FindAllString(output, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// MDNSDiscoverer runs `adb mdns services` with the openscreen backend.
type MDNSDiscoverer struct {
	ADB    *ADB
	Parser AddressParser
}

// Discover implements Discoverer.
func (m MDNSDiscoverer) Discover(ctx context.Context) ([]string, error) {
	parse := m.Parser
	if parse == nil {
		parse = ParseAddresses
	}

	out, err := m.ADB.output(ctx, "mDNS services", m.ADB.mdnsServices(), map[string]string{MDNSEnv: "1"})
	if err != nil {
		return nil, fmt.Errorf("could not list mDNS services: %w", err)
	}

	return parse(out), nil
}
