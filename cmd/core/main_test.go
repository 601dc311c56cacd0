// Package main tests for the core entry point.
package main

import (
	"strings"
	"testing"
)

func TestVersionDefault(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestVersionBanner(t *testing.T) {
	banner := "SafeBeacon Core v" + Version
	if !strings.HasPrefix(banner, "SafeBeacon Core v") {
		t.Errorf("unexpected banner %q", banner)
	}
}
