package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ecotionbuddy/binhub/internal/mission"
)

func TestMissionsCmd(t *testing.T) {
	out, err := runCmd(t, "missions")
	if err != nil {
		t.Fatalf("missions: %v", err)
	}
	for _, d := range mission.Catalogue {
		if !strings.Contains(out, d.ID) {
			t.Errorf("output missing %s: %s", d.ID, out)
		}
	}
	if !strings.Contains(out, "category=plastic") {
		t.Errorf("output missing requirements: %s", out)
	}
}

func TestFormatRequirements(t *testing.T) {
	tests := []struct {
		in   map[string]string
		want string
	}{
		{nil, "-"},
		{map[string]string{"category": "plastic"}, "category=plastic"},
		{map[string]string{"b": "2", "a": "1"}, "a=1,b=2"},
	}
	for _, tt := range tests {
		if got := formatRequirements(tt.in); got != tt.want {
			t.Errorf("formatRequirements(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintCatalogue_Header(t *testing.T) {
	buf := new(bytes.Buffer)
	printCatalogue(buf, nil)
	if !strings.HasPrefix(buf.String(), "ID") || strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("output = %q", buf.String())
	}
}
