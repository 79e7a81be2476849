package engine

import (
	"context"
	"sort"
	"time"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

// InventoryObject is one managed engine object as the engine reports it.
type InventoryObject struct {
	// Kind is the object kind.
	Kind resource.Kind `json:"kind"`

	// Name is the engine-side object name.
	Name string `json:"name"`

	// Binding is the engine object identifier.
	Binding gateway.Binding `json:"binding"`

	// ResourceID is the labelled resource id, empty for unlabelled objects.
	ResourceID resource.ID `json:"resource_id,omitempty"`

	// Status is the engine's own status string.
	Status string `json:"status"`

	// Tracked reports whether the state store holds an entry for the
	// object's resource id.
	Tracked bool `json:"tracked"`

	// Orphan marks objects carrying management labels but no resource id.
	Orphan bool `json:"orphan"`
}

// InventoryCounts aggregates an inventory per kind.
type InventoryCounts struct {
	Images     int `json:"images"`
	Volumes    int `json:"volumes"`
	Networks   int `json:"networks"`
	Containers int `json:"containers"`
	Running    int `json:"running"`
	Orphans    int `json:"orphans"`
}

// Inventory is an actual-state snapshot taken straight from the engine,
// bypassing the store. It backs live status queries.
type Inventory struct {
	// Engine describes the connected engine.
	Engine gateway.Capabilities `json:"engine"`

	// Objects lists every managed object, sorted by kind then name.
	Objects []InventoryObject `json:"objects"`

	// Counts aggregates the objects.
	Counts InventoryCounts `json:"counts"`

	// TakenAt is when the snapshot was taken.
	TakenAt time.Time `json:"taken_at"`
}

// Inventory enumerates the engine's managed objects and summarizes them.
func (r *Reconciler) Inventory(ctx context.Context) (*Inventory, error) {
	caps, err := r.gw.Capabilities(ctx)
	if err != nil {
		return nil, NewTransientError("query engine capabilities", err).
			WithCode(ErrCodeEngineUnavailable)
	}
	objs, err := r.gw.ListManaged(ctx)
	if err != nil {
		return nil, NewTransientError("enumerate engine objects", err).
			WithCode(ErrCodeEngineUnavailable)
	}

	inv := &Inventory{
		Engine:  caps,
		Objects: make([]InventoryObject, 0, len(objs)),
		TakenAt: time.Now(),
	}

	for _, obj := range objs {
		item := InventoryObject{
			Kind:       obj.Kind,
			Name:       obj.Name,
			Binding:    obj.Binding,
			ResourceID: obj.ResourceID,
			Status:     obj.Status,
			Orphan:     obj.ResourceID.IsZero(),
		}
		if !item.Orphan {
			_, item.Tracked = r.store.Get(obj.ResourceID)
		}

		switch obj.Kind {
		case resource.KindImage:
			inv.Counts.Images++
		case resource.KindVolume:
			inv.Counts.Volumes++
		case resource.KindNetwork:
			inv.Counts.Networks++
		case resource.KindContainer:
			inv.Counts.Containers++
			if obj.Running {
				inv.Counts.Running++
			}
		}
		if item.Orphan {
			inv.Counts.Orphans++
		}
		inv.Objects = append(inv.Objects, item)
	}

	sort.Slice(inv.Objects, func(i, j int) bool {
		if inv.Objects[i].Kind != inv.Objects[j].Kind {
			return inv.Objects[i].Kind < inv.Objects[j].Kind
		}
		return inv.Objects[i].Name < inv.Objects[j].Name
	})
	return inv, nil
}
