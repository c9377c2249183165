package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TenantFile is the on-disk shape of the tenant configuration.
type TenantFile struct {
	Tenants []TenantEntry `yaml:"tenants"`
}

// TenantEntry configures onboarding for one tenant.
type TenantEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Sandbox bool   `yaml:"sandbox"`
	SkipKYB bool   `yaml:"skip_kyb"`
	// FixtureVerdict forces the decision outcome for sandbox onboarding.
	FixtureVerdict string `yaml:"fixture_verdict"`
	// Waterfalls maps a vendor kind to its ordered vendor APIs.
	Waterfalls       map[string][]string  `yaml:"waterfalls"`
	MandatoryKinds   []string             `yaml:"mandatory_kinds"`
	VendorRateLimits map[string]RateLimit `yaml:"vendor_rate_limits"`
	Rules            []RuleEntry          `yaml:"rules"`
	Lists            map[string][]string  `yaml:"lists"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type RuleEntry struct {
	Name   string `yaml:"name"`
	Expr   string `yaml:"expr"`
	Action string `yaml:"action"`
}

// LoadTenants reads and decodes the tenant file at path.
func LoadTenants(path string) (TenantFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TenantFile{}, fmt.Errorf("read tenant config: %w", err)
	}
	return ParseTenants(raw)
}

// ParseTenants decodes a tenant file, rejecting unknown fields.
func ParseTenants(raw []byte) (TenantFile, error) {
	var file TenantFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return TenantFile{}, fmt.Errorf("decode tenant config: %w", err)
	}
	return file, nil
}
