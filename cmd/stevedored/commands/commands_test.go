package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stevedore-io/stevedore/pkg/config"
	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

func TestNewGatewayFake(t *testing.T) {
	gw, err := newGateway("fake")
	if err != nil {
		t.Fatalf("newGateway failed: %v", err)
	}
	if gw == nil {
		t.Fatal("expected a gateway")
	}
}

func TestNewGatewayUnknown(t *testing.T) {
	if _, err := newGateway("docker"); err == nil {
		t.Error("expected error for unlinked engine adapter")
	} else if !strings.Contains(err.Error(), "docker") {
		t.Errorf("error does not name the adapter: %v", err)
	}
}

func TestPullTarget(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "directory target",
			path: dir,
			want: filepath.Join(dir, "app.yaml"),
		},
		{
			name: "manifest file target",
			path: "/etc/stevedore/manifests/site.yaml",
			want: "/etc/stevedore/manifests/site.yaml",
		},
		{
			name: "missing path without extension",
			path: "/var/lib/stevedore/manifests",
			want: "/var/lib/stevedore/manifests/app.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.AgentConfig{
				Manifest: config.ManifestConfig{Paths: []string{tt.path}},
				Depot:    &config.DepotConfig{RemotePath: "/srv/manifests/app.yaml"},
			}
			if got := pullTarget(cfg); got != tt.want {
				t.Errorf("pullTarget() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintRunResult(t *testing.T) {
	webID := resource.DeterministicID("edge", resource.KindContainer, "web")
	imgID := resource.DeterministicID("edge", resource.KindImage, "web")

	result := &engine.RunResult{
		ID:       "run-1",
		Status:   engine.RunStatusPartial,
		Duration: 1200 * time.Millisecond,
		Summary:  engine.RunSummary{Total: 2, Succeeded: 1, Failed: 1},
		Results: []engine.UnitResult{
			{
				UnitID:     engine.NewUnitID(engine.OperationCreate, imgID),
				ResourceID: imgID,
				Kind:       resource.KindImage,
				Op:         engine.OperationCreate,
				Status:     engine.UnitStatusSucceeded,
				Attempts:   1,
				Duration:   200 * time.Millisecond,
			},
			{
				UnitID:     engine.NewUnitID(engine.OperationCreate, webID),
				ResourceID: webID,
				Kind:       resource.KindContainer,
				Op:         engine.OperationCreate,
				Status:     engine.UnitStatusFailed,
				Attempts:   3,
				Duration:   900 * time.Millisecond,
				Error:      engine.NewPermanentError("create container", nil),
			},
		},
	}
	names := map[resource.ID]string{webID: "web", imgID: "web-image"}

	var buf bytes.Buffer
	printRunResult(&buf, result, names)
	out := buf.String()

	for _, want := range []string{"web-image", "succeeded", "web", "failed", "create container", "Run run-1: partial"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintRunResultNoop(t *testing.T) {
	var buf bytes.Buffer
	printRunResult(&buf, &engine.RunResult{Status: engine.RunStatusNoop}, nil)
	if !strings.Contains(buf.String(), "Nothing to do") {
		t.Errorf("noop output = %q", buf.String())
	}
}

func TestPrintOrphans(t *testing.T) {
	store := state.NewStore()
	store.Adopt(state.Entry{
		ID:      resource.DeterministicID("orphans", resource.KindVolume, "vol-1"),
		Kind:    resource.KindVolume,
		Name:    "cache-old",
		State:   state.LifecycleCreated,
		Binding: "vol-1",
		Orphan:  true,
	})
	store.Adopt(state.Entry{
		ID:    resource.DeterministicID("edge", resource.KindContainer, "web"),
		Kind:  resource.KindContainer,
		Name:  "web",
		State: state.LifecycleRunning,
	})

	var buf bytes.Buffer
	printOrphans(&buf, &agent{store: store})
	out := buf.String()

	if !strings.Contains(out, "cache-old") {
		t.Errorf("orphan not listed:\n%s", out)
	}
	if strings.Contains(out, "web") {
		t.Errorf("claimed entry listed as orphan:\n%s", out)
	}
}
