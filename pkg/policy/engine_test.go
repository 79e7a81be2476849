package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func containerNode(name string, spec *resource.ContainerSpec) resource.Node {
	return resource.Node{
		ID:   resource.DeterministicID("edge", resource.KindContainer, name),
		Kind: resource.KindContainer,
		Name: name,
		Set:  "edge",
		Spec: spec,
	}
}

func imageNode(name, ref string) resource.Node {
	return resource.Node{
		ID:   resource.DeterministicID("edge", resource.KindImage, name),
		Kind: resource.KindImage,
		Name: name,
		Set:  "edge",
		Spec: &resource.ImageSpec{Reference: ref},
	}
}

func removalPlan(removes int) *engine.Plan {
	plan := &engine.Plan{ID: "plan-1"}
	for i := 0; i < removes; i++ {
		id := resource.DeterministicID("edge", resource.KindVolume, string(rune('a'+i)))
		plan.Units = append(plan.Units, &engine.PlanUnit{
			ID:         engine.NewUnitID(engine.OperationRemove, id),
			ResourceID: id,
			Kind:       resource.KindVolume,
			Op:         engine.OperationRemove,
		})
	}
	plan.Summary = engine.PlanSummary{Total: removes, Removes: removes}
	return plan
}

func TestNewEngineLoadsBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	expected := []string{
		"bind-mount-paths",
		"bulk-removal",
		"host-network-mode",
		"image-tag-pinning",
		"no-privileged-containers",
	}

	policies := eng.ListPolicies()
	if len(policies) != len(expected) {
		t.Fatalf("expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("policies[%d].Name = %q, want %q", i, policies[i].Name, name)
		}
		if policies[i].Rego == "" {
			t.Errorf("policy %s has empty Rego", name)
		}
		if !policies[i].Enabled {
			t.Errorf("policy %s is not enabled", name)
		}
	}
}

func TestEvaluateNodePrivileged(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name        string
		spec        *resource.ContainerSpec
		wantAllowed bool
	}{
		{
			name:        "plain container",
			spec:        &resource.ContainerSpec{Image: resource.DeterministicID("edge", resource.KindImage, "web")},
			wantAllowed: true,
		},
		{
			name: "privileged container",
			spec: &resource.ContainerSpec{
				Image:      resource.DeterministicID("edge", resource.KindImage, "web"),
				Privileged: true,
			},
			wantAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := containerNode("web", tt.spec)
			result, err := eng.EvaluateNode(context.Background(), node)
			if err != nil {
				t.Fatalf("EvaluateNode failed: %v", err)
			}

			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v. Violations: %+v", result.Allowed, tt.wantAllowed, result.Violations)
			}
			if !tt.wantAllowed {
				if len(result.Violations) != 1 {
					t.Fatalf("expected 1 violation, got %d", len(result.Violations))
				}
				v := result.Violations[0]
				if v.Policy != "no-privileged-containers" {
					t.Errorf("violation policy = %q", v.Policy)
				}
				if v.Severity != SeverityError {
					t.Errorf("violation severity = %q", v.Severity)
				}
				if v.Resource != node.ID {
					t.Errorf("violation resource = %s, want %s", v.Resource, node.ID)
				}
			}
		})
	}
}

func TestEvaluateNodeImageTags(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name         string
		reference    string
		wantWarnings int
	}{
		{name: "pinned tag", reference: "nginx:1.27", wantWarnings: 0},
		{name: "latest tag", reference: "nginx:latest", wantWarnings: 1},
		{name: "no tag", reference: "nginx", wantWarnings: 1},
		{name: "registry port with pinned tag", reference: "registry.local:5000/acme/api:2.1", wantWarnings: 0},
		{name: "digest reference", reference: "nginx@sha256:4c0fdaa8b6341bfdeca5f18f7837462c80cff90527ee35ef185571e1c327beac", wantWarnings: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateNode(context.Background(), imageNode("web", tt.reference))
			if err != nil {
				t.Fatalf("EvaluateNode failed: %v", err)
			}

			if !result.Allowed {
				t.Errorf("image evaluation should never block, violations: %+v", result.Violations)
			}
			if len(result.Warnings) != tt.wantWarnings {
				t.Errorf("warnings = %d, want %d: %+v", len(result.Warnings), tt.wantWarnings, result.Warnings)
			}
			if tt.wantWarnings > 0 && result.Warnings[0].Policy != "image-tag-pinning" {
				t.Errorf("warning policy = %q", result.Warnings[0].Policy)
			}
		})
	}
}

func TestEvaluateNodeBindPaths(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name        string
		binds       []string
		wantAllowed bool
	}{
		{
			name:        "bind inside data root",
			binds:       []string{"/var/lib/stevedore/web:/data"},
			wantAllowed: true,
		},
		{
			name:        "bind outside data root",
			binds:       []string{"/etc:/host-etc:ro"},
			wantAllowed: false,
		},
		{
			name:        "mixed binds",
			binds:       []string{"/var/lib/stevedore/web:/data", "/usr/share:/share"},
			wantAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &resource.ContainerSpec{
				Image: resource.DeterministicID("edge", resource.KindImage, "web"),
				Binds: tt.binds,
			}
			result, err := eng.EvaluateNode(context.Background(), containerNode("web", spec))
			if err != nil {
				t.Fatalf("EvaluateNode failed: %v", err)
			}

			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v. Violations: %+v", result.Allowed, tt.wantAllowed, result.Violations)
			}
			if !tt.wantAllowed && result.Violations[0].Policy != "bind-mount-paths" {
				t.Errorf("violation policy = %q", result.Violations[0].Policy)
			}
		})
	}
}

func TestEvaluateNodeHostNetwork(t *testing.T) {
	eng := newTestEngine(t)

	spec := &resource.ContainerSpec{
		Image:       resource.DeterministicID("edge", resource.KindImage, "web"),
		NetworkMode: "host",
	}
	result, err := eng.EvaluateNode(context.Background(), containerNode("web", spec))
	if err != nil {
		t.Fatalf("EvaluateNode failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("host network should warn, not block: %+v", result.Violations)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Policy != "host-network-mode" {
		t.Errorf("warnings = %+v", result.Warnings)
	}
}

func TestEvaluatePlanBulkRemoval(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluatePlan(context.Background(), removalPlan(6))
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("bulk removal should warn, not block: %+v", result.Violations)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %+v", result.Warnings)
	}
	if result.Warnings[0].Policy != "bulk-removal" || !strings.Contains(result.Warnings[0].Message, "6") {
		t.Errorf("warning = %+v", result.Warnings[0])
	}

	result, err = eng.EvaluatePlan(context.Background(), removalPlan(5))
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("5 removals should pass quietly, got %+v", result.Warnings)
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	node := containerNode("web", &resource.ContainerSpec{
		Image:      resource.DeterministicID("edge", resource.KindImage, "web"),
		Privileged: true,
	})

	if err := eng.DisablePolicy("no-privileged-containers"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	result, err := eng.EvaluateNode(context.Background(), node)
	if err != nil {
		t.Fatalf("EvaluateNode failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still blocked: %+v", result.Violations)
	}

	if err := eng.EnablePolicy("no-privileged-containers"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}

	result, err = eng.EvaluateNode(context.Background(), node)
	if err != nil {
		t.Fatalf("EvaluateNode failed: %v", err)
	}
	if result.Allowed {
		t.Error("re-enabled policy did not block")
	}
}

func TestDisableUnknownPolicy(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

const memoryLimitRego = `# Containers must set a memory limit.
package acme.policies.memory

import rego.v1

deny contains violation if {
	input.node.kind == "container"
	not input.node.spec.memory_limit

	violation := {
		"message": sprintf("container %s sets no memory limit", [input.node.name]),
		"severity": "error",
		"resource": input.node.id,
	}
}
`

func TestLoadPathsCustomPolicy(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "memory-limit.rego")
	if err := os.WriteFile(path, []byte(memoryLimitRego), 0644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	if err := eng.LoadPaths(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPaths failed: %v", err)
	}

	if _, err := eng.GetPolicy("memory-limit"); err != nil {
		t.Fatalf("custom policy not loaded: %v", err)
	}

	unlimited := containerNode("web", &resource.ContainerSpec{
		Image: resource.DeterministicID("edge", resource.KindImage, "web"),
	})
	result, err := eng.EvaluateNode(context.Background(), unlimited)
	if err != nil {
		t.Fatalf("EvaluateNode failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected custom policy to block a container without memory limit")
	}
	if len(result.Violations) != 1 || result.Violations[0].Policy != "memory-limit" {
		t.Errorf("violations = %+v", result.Violations)
	}

	limited := containerNode("web", &resource.ContainerSpec{
		Image:       resource.DeterministicID("edge", resource.KindImage, "web"),
		MemoryLimit: 64 << 20,
	})
	result, err = eng.EvaluateNode(context.Background(), limited)
	if err != nil {
		t.Fatalf("EvaluateNode failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("limited container should pass: %+v", result.Violations)
	}
}

func TestLoadPathsBrokenPolicyKeepsSet(t *testing.T) {
	eng := newTestEngine(t)
	before := len(eng.ListPolicies())

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.rego")
	if err := os.WriteFile(path, []byte("package broken\n\ndeny[msg] {"), 0644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	if err := eng.LoadPaths(context.Background(), []string{path}); err == nil {
		t.Fatal("expected LoadPaths to fail on a broken policy")
	}

	if got := len(eng.ListPolicies()); got != before {
		t.Errorf("policy count changed from %d to %d", before, got)
	}
}

func TestReplaceResetsToBuiltins(t *testing.T) {
	eng := newTestEngine(t)
	builtins := len(eng.ListPolicies())

	custom := Policy{
		Name:     "memory-limit",
		Rego:     memoryLimitRego,
		Severity: SeverityError,
		Enabled:  true,
	}
	if err := eng.Replace(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if got := len(eng.ListPolicies()); got != builtins+1 {
		t.Errorf("expected %d policies after Replace, got %d", builtins+1, got)
	}

	if err := eng.Replace(context.Background(), nil); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if got := len(eng.ListPolicies()); got != builtins {
		t.Errorf("expected %d policies after reset, got %d", builtins, got)
	}
	if _, err := eng.GetPolicy("memory-limit"); err == nil {
		t.Error("custom policy survived the reset")
	}
}

func TestSeverity(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical} {
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v", s, err)
		}
	}
	if err := Severity("fatal").Validate(); err == nil {
		t.Error("expected error for unknown severity")
	}

	if SeverityInfo.Blocks() || SeverityWarning.Blocks() {
		t.Error("info and warning must not block")
	}
	if !SeverityError.Blocks() || !SeverityCritical.Blocks() {
		t.Error("error and critical must block")
	}
}

func TestViolationErrorMessage(t *testing.T) {
	err := &ViolationError{Violations: []Violation{
		{Policy: "no-privileged-containers", Message: "container web requests privileged mode"},
		{Policy: "bind-mount-paths", Message: "container web binds host path /etc outside /var/lib/stevedore"},
	}}

	msg := err.Error()
	if !strings.Contains(msg, "policy no-privileged-containers: container web requests privileged mode") {
		t.Errorf("message missing first violation: %q", msg)
	}
	if !strings.Contains(msg, "; policy bind-mount-paths:") {
		t.Errorf("message missing separator or second violation: %q", msg)
	}
}
