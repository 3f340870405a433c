package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// PipeWire queries the PipeWire graph for capture ports
type PipeWire struct{}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{}
}

// ListPorts returns the output ports of the graph, which is where capture nodes publish audio
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := exec.Command("pw-link", "-o").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// ValidatePort checks that a source port exists exactly once
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" || portName == "default" {
		return nil
	}

	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortInList(portName, ports)
}

func validatePortInList(portName string, ports []string) error {
	duplicates := findPortDuplicatesInList(portName, ports)

	switch len(duplicates) {
	case 0:
		return fmt.Errorf("port not found: %s", portName)
	case 1:
		return nil
	default:
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
}

// findPortDuplicatesInList returns every entry with exactly portName.
// Node names that only share a prefix, like "Chrome" and "Chrome-2", do not count.
func findPortDuplicatesInList(portName string, ports []string) []string {
	var duplicates []string
	for _, port := range ports {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

// findEchoCancelPort returns the first port published by an echo-cancel node
func findEchoCancelPort(ports []string) (string, bool) {
	for _, port := range ports {
		if strings.Contains(strings.ToLower(nodeName(port)), "echo-cancel") {
			return port, true
		}
	}
	return "", false
}

// nodeName strips the port suffix from "node:port"
func nodeName(port string) string {
	if i := strings.LastIndex(port, ":"); i > 0 {
		return port[:i]
	}
	return port
}

func (pw *PipeWire) echoCancelTarget() (string, bool) {
	ports, err := pw.ListPorts()
	if err != nil {
		slog.Debug("Failed to look up echo-cancel node", "error", err)
		return "", false
	}
	port, ok := findEchoCancelPort(ports)
	if !ok {
		return "", false
	}
	return nodeName(port), true
}
