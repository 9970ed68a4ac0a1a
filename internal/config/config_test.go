package config

import (
	"strings"
	"testing"
)

const sampleYAML = `
project:
  id: proj-1
  org_id: org-1
  name: Sample
task_types:
  technical:
    name: Technical
  design:
    name: Design
automation:
  actions:
    notify:
      description: Record a notification event
  defaults:
    task_type: technical
    priority: 2
`

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Project.ID != "proj-1" || cfg.Project.OrgID != "org-1" {
		t.Fatalf("project: %+v", cfg.Project)
	}
	if !cfg.KnownTaskType("design") || cfg.KnownTaskType("review") {
		t.Fatal("task type catalog wrong")
	}
	if cfg.DefaultTaskType() != "technical" || cfg.DefaultPriority() != 2 {
		t.Fatalf("defaults: type=%s priority=%d", cfg.DefaultTaskType(), cfg.DefaultPriority())
	}
	if !cfg.KnownAction("notify") || cfg.KnownAction("page") {
		t.Fatal("action catalog wrong")
	}
}

func TestFromYAMLRejectsUnknownFields(t *testing.T) {
	doc := strings.Replace(sampleYAML, "automation:", "automations:", 1)
	if _, err := FromYAML([]byte(doc)); err == nil {
		t.Fatal("typo field accepted")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing project id", strings.Replace(sampleYAML, "id: proj-1", `id: ""`, 1)},
		{"no task types", "project:\n  id: p\ntask_types: {}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromYAML([]byte(tc.doc)); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestDefaultRoundTrip(t *testing.T) {
	cfg := Default("proj-9")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default invalid: %v", err)
	}
	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	back, err := FromYAML(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if back.Project.ID != "proj-9" || !back.KnownTaskType("technical") {
		t.Fatalf("round trip: %+v", back)
	}
	if !back.KnownAction("archive_card") {
		t.Fatal("round trip lost actions")
	}
}

func TestEmptyActionCatalogAcceptsAnything(t *testing.T) {
	var cfg Config
	if !cfg.KnownAction("whatever") {
		t.Fatal("empty catalog should accept any action")
	}
}
