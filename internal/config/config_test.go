package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default("site-1")
	if cfg.Site.ID != "site-1" {
		t.Fatalf("site id: %s", cfg.Site.ID)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if len(cfg.Workflows) != 1 || !cfg.Workflows[0].Default {
		t.Fatalf("default workflow missing: %+v", cfg.Workflows)
	}
	if _, err := FromYAML([]byte(GenerateDefault("site-1"))); err != nil {
		t.Fatalf("generated yaml must parse: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing site id",
			"site:\n  id: \"\"\n",
			"site.id is required",
		},
		{
			"duplicate group",
			"site:\n  id: s\ngroups:\n  - id: editors\n  - id: editors\n",
			"duplicate group id",
		},
		{
			"duplicate workflow name",
			"site:\n  id: s\nworkflows:\n  - name: a\n  - name: a\n",
			"duplicate workflow name",
		},
		{
			"group twice in one workflow",
			"site:\n  id: s\nworkflows:\n  - name: a\n    stages:\n      - group: g\n        order: 10\n      - group: g\n        order: 20\n",
			"twice",
		},
		{
			"unknown stage group",
			"site:\n  id: s\ngroups:\n  - id: editors\nworkflows:\n  - name: a\n    stages:\n      - group: ghosts\n        order: 10\n",
			"unknown group",
		},
		{
			"two defaults",
			"site:\n  id: s\nworkflows:\n  - name: a\n    default: true\n  - name: b\n    default: true\n",
			"at most one",
		},
		{
			"negative order",
			"site:\n  id: s\nworkflows:\n  - name: a\n    stages:\n      - group: g\n        order: -1\n",
			"negative order",
		},
	}
	for _, tc := range cases {
		_, err := FromYAML([]byte(tc.yaml))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %v, want substring %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file should be nil,nil: %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "signoff.yml"), []byte(GenerateDefault("site-x")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || cfg.Site.ID != "site-x" {
		t.Fatalf("loaded config: %+v", cfg)
	}
}
