package main

import "testing"

func TestFormatVersionAddsVPrefixWhenNumeric(t *testing.T) {
	if got := formatVersion("1.2.3"); got != "v1.2.3" {
		t.Fatalf("formatVersion(1.2.3) = %q, want v1.2.3", got)
	}
}

func TestFormatVersionLeavesNonNumericAlone(t *testing.T) {
	if got := formatVersion("dev"); got != "dev" {
		t.Fatalf("formatVersion(dev) = %q, want dev", got)
	}
	if got := formatVersion(""); got != "" {
		t.Fatalf("formatVersion(\"\") = %q, want empty", got)
	}
}
