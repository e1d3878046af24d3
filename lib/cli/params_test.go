// Copyright 2026 The Curator Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlags_BasicTypes(t *testing.T) {
	type params struct {
		Strategy string        `flag:"strategy" desc:"pruning strategy"`
		DryRun   bool          `flag:"dry-run,n" desc:"preview without deleting"`
		Limit    int           `flag:"limit" desc:"max sessions to evict"`
		Budget   int64         `flag:"budget" desc:"token budget override"`
		Fraction float64       `flag:"fraction" desc:"eviction fraction"`
		Timeout  time.Duration `flag:"timeout" desc:"operation timeout"`
		Reasons  []string      `flag:"reasons" desc:"archive reason filter"`
		Untagged string        // no flag tag — should be skipped
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	err := flagSet.Parse([]string{
		"--strategy", "moderate",
		"-n",
		"--limit", "12",
		"--budget", "200000",
		"--fraction", "0.25",
		"--timeout", "2m",
		"--reasons", "manual,auto-cleanup",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Strategy != "moderate" {
		t.Errorf("Strategy = %q, want %q", p.Strategy, "moderate")
	}
	if !p.DryRun {
		t.Error("DryRun = false, want true")
	}
	if p.Limit != 12 {
		t.Errorf("Limit = %d, want 12", p.Limit)
	}
	if p.Budget != 200000 {
		t.Errorf("Budget = %d, want 200000", p.Budget)
	}
	if p.Fraction != 0.25 {
		t.Errorf("Fraction = %f, want 0.25", p.Fraction)
	}
	if p.Timeout != 2*time.Minute {
		t.Errorf("Timeout = %v, want 2m", p.Timeout)
	}
	if len(p.Reasons) != 2 || p.Reasons[0] != "manual" || p.Reasons[1] != "auto-cleanup" {
		t.Errorf("Reasons = %v, want [manual auto-cleanup]", p.Reasons)
	}
	if p.Untagged != "" {
		t.Errorf("Untagged = %q, want empty (should be skipped)", p.Untagged)
	}
}

func TestBindFlags_Defaults(t *testing.T) {
	type params struct {
		Strategy string        `flag:"strategy" desc:"pruning strategy" default:"conservative"`
		Limit    int           `flag:"limit" desc:"max evictions" default:"10"`
		Budget   int64         `flag:"budget" desc:"budget override" default:"200000"`
		Fraction float64       `flag:"fraction" desc:"fraction" default:"0.5"`
		Timeout  time.Duration `flag:"timeout" desc:"timeout" default:"10s"`
		DryRun   bool          `flag:"dry-run" desc:"dry run" default:"true"`
		Reasons  []string      `flag:"reasons" desc:"reasons" default:"manual,watch"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	// Parse with no arguments — should get all defaults.
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Strategy != "conservative" {
		t.Errorf("Strategy = %q, want %q", p.Strategy, "conservative")
	}
	if p.Limit != 10 {
		t.Errorf("Limit = %d, want 10", p.Limit)
	}
	if p.Budget != 200000 {
		t.Errorf("Budget = %d, want 200000", p.Budget)
	}
	if p.Fraction != 0.5 {
		t.Errorf("Fraction = %f, want 0.5", p.Fraction)
	}
	if p.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", p.Timeout)
	}
	if !p.DryRun {
		t.Error("DryRun = false, want true")
	}
	if len(p.Reasons) != 2 || p.Reasons[0] != "manual" || p.Reasons[1] != "watch" {
		t.Errorf("Reasons = %v, want [manual watch]", p.Reasons)
	}
}

func TestBindFlags_EmbeddedJSONOutput(t *testing.T) {
	type params struct {
		JSONOutput
		Strategy string `flag:"strategy" desc:"pruning strategy"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if err := flagSet.Parse([]string{"--json", "--strategy", "aggressive"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !p.OutputJSON {
		t.Error("OutputJSON = false, want true (embedded flag not bound)")
	}
	if p.Strategy != "aggressive" {
		t.Errorf("Strategy = %q, want %q", p.Strategy, "aggressive")
	}
}

func TestBindFlags_RejectsNonPointer(t *testing.T) {
	type params struct {
		Name string `flag:"name"`
	}

	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	err := BindFlags(params{}, flagSet)
	if err == nil {
		t.Fatal("BindFlags(non-pointer) = nil, want error")
	}
	if !strings.Contains(err.Error(), "pointer to a struct") {
		t.Errorf("error = %q, want mention of pointer requirement", err.Error())
	}
}

func TestBindFlags_RejectsUnsupportedType(t *testing.T) {
	type params struct {
		Weights map[string]float64 `flag:"weights"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	err := BindFlags(&p, flagSet)
	if err == nil {
		t.Fatal("BindFlags(map field) = nil, want error")
	}
	if !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("error = %q, want 'unsupported type'", err.Error())
	}
}

func TestBindFlags_RejectsBadDefault(t *testing.T) {
	type params struct {
		Limit int `flag:"limit" default:"not-a-number"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	err := BindFlags(&p, flagSet)
	if err == nil {
		t.Fatal("BindFlags(bad default) = nil, want error")
	}
	if !strings.Contains(err.Error(), "default for --limit") {
		t.Errorf("error = %q, want 'default for --limit'", err.Error())
	}
}

func TestFlagsFromParams_PanicsOnInvalidParams(t *testing.T) {
	defer func() {
		if recovered := recover(); recovered == nil {
			t.Fatal("FlagsFromParams(non-pointer) did not panic")
		}
	}()
	FlagsFromParams("test", struct{}{})
}
