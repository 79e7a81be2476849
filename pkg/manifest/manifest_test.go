package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

const sampleYAML = `
set: edge
images:
  web:
    reference: nginx:1.27
volumes:
  data: {}
networks:
  backend:
    driver: bridge
containers:
  web:
    image: web
    networks: [backend]
    mounts:
      - volume: data
        target: /data
    ports:
      - container_port: 8080
        host_port: 80
`

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{path: "app.yaml", want: FormatYAML},
		{path: "app.yml", want: FormatYAML},
		{path: "/etc/stevedore/app.cue", want: FormatCUE},
		{path: "app.star", want: FormatStarlark},
		{path: "app.toml", wantErr: true},
		{path: "app", wantErr: true},
	}

	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if tt.wantErr {
			if err == nil {
				t.Errorf("DetectFormat(%q): expected error", tt.path)
			}
			continue
		}
		if err != nil {
			t.Errorf("DetectFormat(%q): unexpected error: %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DetectFormat(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestFormatValidate(t *testing.T) {
	for _, f := range []Format{FormatYAML, FormatCUE, FormatStarlark} {
		if err := f.Validate(); err != nil {
			t.Errorf("format %s should be valid: %v", f, err)
		}
	}
	for _, f := range []Format{"", "toml", "json"} {
		if err := Format(f).Validate(); err == nil {
			t.Errorf("format %q should be invalid", f)
		}
	}
}

func TestParseYAMLManifest(t *testing.T) {
	nodes, err := Parse([]byte(sampleYAML), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes))
	}

	// Kind precedence order: image, volume, network, container.
	wantKinds := []resource.Kind{
		resource.KindImage,
		resource.KindVolume,
		resource.KindNetwork,
		resource.KindContainer,
	}
	for i, want := range wantKinds {
		if nodes[i].Kind != want {
			t.Errorf("node %d: kind = %s, want %s", i, nodes[i].Kind, want)
		}
		if nodes[i].Set != "edge" {
			t.Errorf("node %d: set = %q, want edge", i, nodes[i].Set)
		}
	}

	imageID := resource.DeterministicID("edge", resource.KindImage, "web")
	if nodes[0].ID != imageID {
		t.Errorf("image id = %s, want deterministic %s", nodes[0].ID, imageID)
	}

	ctr, ok := nodes[3].Spec.(*resource.ContainerSpec)
	if !ok {
		t.Fatalf("container spec has type %T", nodes[3].Spec)
	}
	if ctr.Image != imageID {
		t.Errorf("container image = %s, want %s", ctr.Image, imageID)
	}
	volumeID := resource.DeterministicID("edge", resource.KindVolume, "data")
	if len(ctr.Mounts) != 1 || ctr.Mounts[0].Volume != volumeID {
		t.Errorf("container mounts = %+v, want volume %s", ctr.Mounts, volumeID)
	}
	if ctr.Mounts[0].Target != "/data" {
		t.Errorf("mount target = %q, want /data", ctr.Mounts[0].Target)
	}
	networkID := resource.DeterministicID("edge", resource.KindNetwork, "backend")
	if len(ctr.Networks) != 1 || ctr.Networks[0] != networkID {
		t.Errorf("container networks = %v, want %s", ctr.Networks, networkID)
	}
	if len(ctr.Ports) != 1 || ctr.Ports[0].ContainerPort != 8080 || ctr.Ports[0].HostPort != 80 {
		t.Errorf("container ports = %+v", ctr.Ports)
	}
}

func TestParseYAMLMultiDocument(t *testing.T) {
	manifest := `
set: edge
images:
  web:
    reference: nginx:1.27
---
set: edge
containers:
  web:
    image: web
`
	nodes, err := Parse([]byte(manifest), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	ctr := nodes[1].Spec.(*resource.ContainerSpec)
	if ctr.Image != nodes[0].ID {
		t.Errorf("cross-document reference not resolved: %s != %s", ctr.Image, nodes[0].ID)
	}
}

func TestParseYAMLUnknownField(t *testing.T) {
	manifest := `
set: edge
imagez:
  web:
    reference: nginx:1.27
`
	_, err := Parse([]byte(manifest), FormatYAML)
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
	if !strings.Contains(err.Error(), "imagez") {
		t.Errorf("error should name the unknown field: %v", err)
	}
}

func TestParseYAMLUnknownNestedField(t *testing.T) {
	manifest := `
set: edge
containers:
  web:
    image: web
    restart: always
`
	_, err := Parse([]byte(manifest), FormatYAML)
	if err == nil {
		t.Fatal("expected error for unknown container field")
	}
	if !strings.Contains(err.Error(), "restart") {
		t.Errorf("error should name the unknown field: %v", err)
	}
}

func TestParseEmptyInput(t *testing.T) {
	nodes, err := Parse(nil, FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("expected no nodes, got %d", len(nodes))
	}
}

func TestParseUnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte(sampleYAML), Format("toml"))
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported manifest format") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	nodes, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(nodes))
	}
}

func TestLoadAllDirectory(t *testing.T) {
	dir := t.TempDir()
	images := `
set: edge
images:
  web:
    reference: nginx:1.27
`
	containers := `
set: edge
containers:
  web:
    image: web
`
	if err := os.WriteFile(filepath.Join(dir, "images.yaml"), []byte(images), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "containers.yaml"), []byte(containers), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# notes"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	nodes, err := NewParser().LoadAll([]string{dir}, "")
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	// References resolve across files of the same set.
	ctr := nodes[1].Spec.(*resource.ContainerSpec)
	if ctr.Image != nodes[0].ID {
		t.Errorf("cross-file reference not resolved: %s != %s", ctr.Image, nodes[0].ID)
	}
}

func TestLoadAllForcedFormat(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "extra.star"), []byte("broken ("), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	// Forcing YAML skips the script entirely, broken or not.
	nodes, err := NewParser().LoadAll([]string{dir}, FormatYAML)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(nodes))
	}
}

func TestLoadAllMissingPath(t *testing.T) {
	_, err := NewParser().LoadAll([]string{"/nonexistent/manifests"}, "")
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestLoadExplicitFileNeedsKnownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.manifest")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected detect error for unknown extension")
	}

	// A forced format loads the same file regardless of extension.
	nodes, err := NewParser().LoadAll([]string{path}, FormatYAML)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(nodes))
	}
}
