package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHeaderPathFor(t *testing.T) {
	cases := []struct{ in, want string }{
		{"out.cc", "out.h"},
		{"sim.cpp", "sim.h"},
		{"nodotext", "nodotext.h"},
		{"dir/out.cc", "dir/out.h"},
	}
	for _, c := range cases {
		if got := headerPathFor(c.in); got != c.want {
			t.Errorf("headerPathFor(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

const trivialDesignJSON = `{
  "modules": {
    "\\top": {
      "selected": true,
      "wires": {
        "\\a": {"width": 1, "port": "input"},
        "\\b": {"width": 1, "port": "output"}
      },
      "connections": [
        {"lhs": [{"wire": "\\b", "width": 1}], "rhs": [{"wire": "\\a", "width": 1}]}
      ]
    }
  }
}`

func TestLoadDesignFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "design.json")
	if err := os.WriteFile(path, []byte(trivialDesignJSON), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	d, err := loadDesign(path)
	if err != nil {
		t.Fatalf("loadDesign: %v", err)
	}
	if _, ok := d.Modules[`\top`]; !ok {
		t.Fatalf("loaded design missing module \\top")
	}
}

func TestLoadDesignMissingFile(t *testing.T) {
	if _, err := loadDesign(filepath.Join(t.TempDir(), "does-not-exist.json")); err == nil {
		t.Fatalf("loadDesign should fail for a missing file")
	}
}

func resetFlags(t *testing.T) {
	t.Helper()
	if err := rootCmd.Flags().Set("header", "false"); err != nil {
		t.Fatalf("reset header flag: %v", err)
	}
	if err := rootCmd.Flags().Set("namespace", "cxxrtl_design"); err != nil {
		t.Fatalf("reset namespace flag: %v", err)
	}
	if err := rootCmd.Flags().Set("O", "5"); err != nil {
		t.Fatalf("reset O flag: %v", err)
	}
	if err := rootCmd.Flags().Set("verbose", "false"); err != nil {
		t.Fatalf("reset verbose flag: %v", err)
	}
	if err := rootCmd.Flags().Set("design", ""); err != nil {
		t.Fatalf("reset design flag: %v", err)
	}
}

func TestRunWriteCxxrtlHeaderRequiresFilename(t *testing.T) {
	resetFlags(t)
	if err := rootCmd.Flags().Set("header", "true"); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := runWriteCxxrtl(rootCmd, nil); err == nil {
		t.Fatalf("-header with no output filename should be rejected")
	}
}

func TestRunWriteCxxrtlRejectsBadLevel(t *testing.T) {
	resetFlags(t)
	if err := rootCmd.Flags().Set("O", "6"); err != nil {
		t.Fatalf("set O: %v", err)
	}
	if err := runWriteCxxrtl(rootCmd, nil); err == nil {
		t.Fatalf("optimization level 6 should be rejected")
	}
}

func TestRunWriteCxxrtlEndToEnd(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	designPath := filepath.Join(dir, "design.json")
	if err := os.WriteFile(designPath, []byte(trivialDesignJSON), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := rootCmd.Flags().Set("design", designPath); err != nil {
		t.Fatalf("set design: %v", err)
	}
	if err := rootCmd.Flags().Set("O", "0"); err != nil {
		t.Fatalf("set O: %v", err)
	}
	outPath := filepath.Join(dir, "out.cc")

	if err := runWriteCxxrtl(rootCmd, []string{outPath}); err != nil {
		t.Fatalf("runWriteCxxrtl: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "p_b.next = p_a.curr;") {
		t.Fatalf("output missing expected assignment:\n%s", data)
	}
}

func TestRunWriteCxxrtlSplitHeader(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	designPath := filepath.Join(dir, "design.json")
	if err := os.WriteFile(designPath, []byte(trivialDesignJSON), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := rootCmd.Flags().Set("design", designPath); err != nil {
		t.Fatalf("set design: %v", err)
	}
	if err := rootCmd.Flags().Set("header", "true"); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := rootCmd.Flags().Set("namespace", "demo"); err != nil {
		t.Fatalf("set namespace: %v", err)
	}
	outPath := filepath.Join(dir, "out.cc")

	if err := runWriteCxxrtl(rootCmd, []string{outPath}); err != nil {
		t.Fatalf("runWriteCxxrtl: %v", err)
	}
	impl, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile impl: %v", err)
	}
	if !strings.Contains(string(impl), `#include "out.h"`) {
		t.Fatalf("impl file missing #include of its header:\n%s", impl)
	}
	header, err := os.ReadFile(filepath.Join(dir, "out.h"))
	if err != nil {
		t.Fatalf("ReadFile header: %v", err)
	}
	if !strings.Contains(string(header), "DEMO_HEADER") {
		t.Fatalf("header missing expected include guard:\n%s", header)
	}
}
