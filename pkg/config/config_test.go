// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults_FallsBackWhenEnvUnset(t *testing.T) {
	c := Defaults()
	if c.ChainID != 11155111 {
		t.Errorf("ChainID = %d, want 11155111", c.ChainID)
	}
	if c.DatasetLimit != 10 {
		t.Errorf("DatasetLimit = %d, want 10", c.DatasetLimit)
	}
	if c.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", c.ListenAddr)
	}
}

func TestDefaults_EnvOverride(t *testing.T) {
	t.Setenv("BITACORA_CHAIN_ID", "1")
	t.Setenv("BITACORA_DATASET_LIMIT", "25")
	t.Setenv("BITACORA_LISTEN_ADDR", ":9999")

	c := Defaults()
	if c.ChainID != 1 {
		t.Errorf("ChainID = %d, want 1", c.ChainID)
	}
	if c.DatasetLimit != 25 {
		t.Errorf("DatasetLimit = %d, want 25", c.DatasetLimit)
	}
	if c.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", c.ListenAddr)
	}
}

func TestLoadFile_OverlaysOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bitacora.yaml")
	yaml := "web3_url: https://example.invalid/rpc\ndataset_limit: 50\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	c := Defaults()
	wantLogLevel := c.LogLevel
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if c.Web3URL != "https://example.invalid/rpc" {
		t.Errorf("Web3URL = %q, want the file's value", c.Web3URL)
	}
	if c.DatasetLimit != 50 {
		t.Errorf("DatasetLimit = %d, want 50", c.DatasetLimit)
	}
	if c.LogLevel != wantLogLevel {
		t.Errorf("LogLevel changed to %q despite the file not mentioning it", c.LogLevel)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	c := Defaults()
	if err := c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidate_ReportsAllMissingFields(t *testing.T) {
	c := &Config{}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected an error for an empty config")
	}
	for _, want := range []string{"web3 URL", "contract address", "private key", "dataset limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing expected substring %q", err.Error(), want)
		}
	}
}

func TestValidate_PassesWithAllFieldsSet(t *testing.T) {
	c := &Config{
		Web3URL:         "https://example.invalid/rpc",
		ContractAddress: "0x0000000000000000000000000000000000000001",
		PrivateKey:      "deadbeef",
		DatasetLimit:    10,
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
