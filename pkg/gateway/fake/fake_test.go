package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

func pullImage(t *testing.T, e *Engine, ref string) gateway.Binding {
	t.Helper()
	binding, err := e.PullImage(context.Background(), gateway.ImagePullRequest{Reference: ref})
	if err != nil {
		t.Fatalf("PullImage(%s): %v", ref, err)
	}
	return binding
}

func TestCreateAndInspect(t *testing.T) {
	ctx := context.Background()
	e := New()

	img := pullImage(t, e, "docker.io/library/nginx:1.27")
	vol, err := e.CreateVolume(ctx, gateway.VolumeCreateRequest{Name: "data", Driver: "local"})
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	net, err := e.CreateNetwork(ctx, gateway.NetworkCreateRequest{Name: "frontend", Driver: "bridge"})
	if err != nil {
		t.Fatalf("CreateNetwork: %v", err)
	}
	ctr, err := e.CreateContainer(ctx, gateway.ContainerCreateRequest{
		Name:     "web",
		Image:    img,
		Networks: []gateway.Binding{net},
		Mounts:   []gateway.Mount{{Source: vol, Target: "/data"}},
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	obj, err := e.Inspect(ctx, resource.KindContainer, ctr)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if obj.Name != "web" || obj.Running {
		t.Errorf("Inspect = %+v, want name web, not running", obj)
	}

	if err := e.StartContainer(ctx, ctr); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}
	obj, err = e.Inspect(ctx, resource.KindContainer, ctr)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !obj.Running || obj.Status != "running" {
		t.Errorf("after start: Running=%v Status=%q, want running", obj.Running, obj.Status)
	}
}

func TestDuplicateCreateReportsExisting(t *testing.T) {
	ctx := context.Background()
	e := New()

	labels := map[string]string{gateway.LabelFingerprint: "abc123"}
	first, err := e.PullImage(ctx, gateway.ImagePullRequest{Reference: "nginx:1", Labels: labels})
	if err != nil {
		t.Fatalf("PullImage: %v", err)
	}

	_, err = e.PullImage(ctx, gateway.ImagePullRequest{Reference: "nginx:1"})
	existing, ok := gateway.AsAlreadyExists(err)
	if !ok {
		t.Fatalf("second PullImage = %v, want AlreadyExistsError", err)
	}
	if existing.Binding != first {
		t.Errorf("Binding = %s, want %s", existing.Binding, first)
	}
	if existing.Fingerprint != "abc123" {
		t.Errorf("Fingerprint = %s, want abc123", existing.Fingerprint)
	}
}

func TestRemoveInUse(t *testing.T) {
	ctx := context.Background()
	e := New()

	img := pullImage(t, e, "nginx:1")
	vol, _ := e.CreateVolume(ctx, gateway.VolumeCreateRequest{Name: "data"})
	ctr, err := e.CreateContainer(ctx, gateway.ContainerCreateRequest{
		Name:   "web",
		Image:  img,
		Mounts: []gateway.Mount{{Source: vol, Target: "/data"}},
	})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	if err := e.RemoveVolume(ctx, vol); !gateway.IsInUse(err) {
		t.Fatalf("RemoveVolume with mounted container = %v, want ErrInUse", err)
	}
	if err := e.RemoveImage(ctx, img); !gateway.IsInUse(err) {
		t.Fatalf("RemoveImage with container = %v, want ErrInUse", err)
	}

	if err := e.RemoveContainer(ctx, ctr); err != nil {
		t.Fatalf("RemoveContainer: %v", err)
	}
	if err := e.RemoveVolume(ctx, vol); err != nil {
		t.Fatalf("RemoveVolume after container gone: %v", err)
	}
	if err := e.RemoveImage(ctx, img); err != nil {
		t.Fatalf("RemoveImage after container gone: %v", err)
	}
}

func TestRemoveRunningContainerRefused(t *testing.T) {
	ctx := context.Background()
	e := New()

	img := pullImage(t, e, "nginx:1")
	ctr, _ := e.CreateContainer(ctx, gateway.ContainerCreateRequest{Name: "web", Image: img})
	if err := e.StartContainer(ctx, ctr); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}

	if err := e.RemoveContainer(ctx, ctr); err == nil {
		t.Fatal("RemoveContainer on running container succeeded, want error")
	}
	if err := e.StopContainer(ctx, ctr, time.Second); err != nil {
		t.Fatalf("StopContainer: %v", err)
	}
	if err := e.RemoveContainer(ctx, ctr); err != nil {
		t.Fatalf("RemoveContainer after stop: %v", err)
	}
}

func TestRemoveAbsent(t *testing.T) {
	ctx := context.Background()
	e := New()
	if err := e.RemoveVolume(ctx, "vol-999999"); !gateway.IsNotFound(err) {
		t.Errorf("RemoveVolume(absent) = %v, want ErrNotFound", err)
	}
	if err := e.RemoveContainer(ctx, "ctr-999999"); !gateway.IsNotFound(err) {
		t.Errorf("RemoveContainer(absent) = %v, want ErrNotFound", err)
	}
}

func TestCreateContainerMissingDependency(t *testing.T) {
	ctx := context.Background()
	e := New()
	_, err := e.CreateContainer(ctx, gateway.ContainerCreateRequest{Name: "web", Image: "img-000042"})
	if err == nil {
		t.Fatal("CreateContainer with missing image succeeded, want error")
	}
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	e := New()
	injected := errors.New("boom")
	e.FailNext("PullImage", injected)

	if _, err := e.PullImage(ctx, gateway.ImagePullRequest{Reference: "nginx:1"}); !errors.Is(err, injected) {
		t.Fatalf("PullImage = %v, want injected error", err)
	}
	if _, err := e.PullImage(ctx, gateway.ImagePullRequest{Reference: "nginx:1"}); err != nil {
		t.Fatalf("PullImage after injection consumed: %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.SetUnavailable(true)
	if err := e.Ping(ctx); !gateway.IsUnavailable(err) {
		t.Fatalf("Ping = %v, want ErrUnavailable", err)
	}
	e.SetUnavailable(false)
	if err := e.Ping(ctx); err != nil {
		t.Fatalf("Ping after recovery: %v", err)
	}
}

func TestListManagedCarriesLabels(t *testing.T) {
	ctx := context.Background()
	e := New()

	node := resource.Node{ID: "res-1", Kind: resource.KindVolume, Name: "data", Set: "edge"}
	labels := gateway.ManagedLabels(node, "fp-1", map[string]string{"team": "iot"})
	if _, err := e.CreateVolume(ctx, gateway.VolumeCreateRequest{Name: "data", Labels: labels}); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}

	objs, err := e.ListManaged(ctx)
	if err != nil {
		t.Fatalf("ListManaged: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("ListManaged returned %d objects, want 1", len(objs))
	}
	obj := objs[0]
	if obj.ResourceID != "res-1" {
		t.Errorf("ResourceID = %s, want res-1", obj.ResourceID)
	}
	if obj.Fingerprint != "fp-1" {
		t.Errorf("Fingerprint = %s, want fp-1", obj.Fingerprint)
	}
	if !gateway.IsManaged(obj.Labels) {
		t.Error("IsManaged = false, want true")
	}
	if obj.Labels[gateway.LabelWorkloadSet] != "edge" {
		t.Errorf("workload-set label = %q, want edge", obj.Labels[gateway.LabelWorkloadSet])
	}
	if obj.Labels["team"] != "iot" {
		t.Errorf("user label lost: %v", obj.Labels)
	}
}

func TestCallJournal(t *testing.T) {
	ctx := context.Background()
	e := New()
	pullImage(t, e, "nginx:1")
	_ = e.Ping(ctx)

	if n := e.CallCount("PullImage"); n != 1 {
		t.Errorf("CallCount(PullImage) = %d, want 1", n)
	}
	e.ResetCalls()
	if got := e.Calls(); len(got) != 0 {
		t.Errorf("Calls after reset = %v, want empty", got)
	}
}
