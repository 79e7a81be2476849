package manifest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

func TestEvalScript(t *testing.T) {
	script := `
workload_set("edge")

image("web", reference="nginx:1.27")
volume("data")
network("backend", driver="bridge")

container("web",
    image="web",
    networks=["backend"],
    mounts=[{"volume": "data", "target": "/data"}],
    env=["PORT=8080"],
    privileged=True,
    memory_limit=1024,
)
`
	nodes, err := Parse([]byte(script), FormatStarlark)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes))
	}
	for i, kind := range []resource.Kind{resource.KindImage, resource.KindVolume, resource.KindNetwork, resource.KindContainer} {
		if nodes[i].Kind != kind {
			t.Errorf("nodes[%d].Kind = %s, want %s", i, nodes[i].Kind, kind)
		}
	}

	ctr := nodes[3].Spec.(*resource.ContainerSpec)
	if ctr.Image != nodes[0].ID {
		t.Errorf("container image = %s, want %s", ctr.Image, nodes[0].ID)
	}
	if len(ctr.Mounts) != 1 || ctr.Mounts[0].Volume != nodes[1].ID {
		t.Errorf("mounts = %+v", ctr.Mounts)
	}
	if len(ctr.Networks) != 1 || ctr.Networks[0] != nodes[2].ID {
		t.Errorf("networks = %v", ctr.Networks)
	}
	if len(ctr.Env) != 1 || ctr.Env[0] != "PORT=8080" {
		t.Errorf("env = %v", ctr.Env)
	}
	if !ctr.Privileged {
		t.Error("privileged not set")
	}
	if ctr.MemoryLimit != 1024 {
		t.Errorf("memory_limit = %d", ctr.MemoryLimit)
	}
}

func TestEvalScriptComputed(t *testing.T) {
	script := `
workload_set("edge")

for i in range(3):
    volume("cache-" + str(i))
`
	nodes, err := Parse([]byte(script), FormatStarlark)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 volumes, got %d", len(nodes))
	}
	for i, name := range []string{"cache-0", "cache-1", "cache-2"} {
		if nodes[i].Name != name {
			t.Errorf("nodes[%d].Name = %q, want %q", i, nodes[i].Name, name)
		}
	}
}

func TestEvalScriptDuplicateDeclaration(t *testing.T) {
	script := `
workload_set("edge")
image("web", reference="nginx:1.27")
image("web", reference="nginx:1.28")
`
	_, err := Parse([]byte(script), FormatStarlark)
	if err == nil {
		t.Fatal("expected duplicate declaration error")
	}
	if !strings.Contains(err.Error(), "already declared") {
		t.Errorf("error = %v", err)
	}
}

func TestEvalScriptSetTwice(t *testing.T) {
	script := `
workload_set("edge")
workload_set("core")
`
	_, err := Parse([]byte(script), FormatStarlark)
	if err == nil {
		t.Fatal("expected duplicate set error")
	}
	if !strings.Contains(err.Error(), "already declared") {
		t.Errorf("error = %v", err)
	}
}

func TestEvalScriptUnknownArgument(t *testing.T) {
	script := `
workload_set("edge")
image("web", ref="nginx:1.27")
`
	_, err := Parse([]byte(script), FormatStarlark)
	if err == nil {
		t.Fatal("expected unknown argument error")
	}
	if !strings.Contains(err.Error(), "ref") {
		t.Errorf("error = %v", err)
	}
}

func TestEvalScriptRuntimeError(t *testing.T) {
	_, err := Parse([]byte(`boom()`), FormatStarlark)
	if err == nil {
		t.Fatal("expected evaluation error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v", err)
	}
}

func TestEvalScriptMissingSet(t *testing.T) {
	_, err := Parse([]byte(`image("web", reference="nginx:1.27")`), FormatStarlark)
	if err == nil {
		t.Fatal("expected schema violation for missing set")
	}
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
}

func TestEvalScriptTimeout(t *testing.T) {
	p := NewParser()
	p.evalTimeout = 50 * time.Millisecond

	script := `
workload_set("edge")
for i in range(1 << 31):
    pass
`
	_, err := p.Parse([]byte(script), FormatStarlark)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v", err)
	}
}
