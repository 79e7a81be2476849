package manifest

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/stevedore-io/stevedore/pkg/graph"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

// declKey identifies a declaration inside the merged manifest collection.
type declKey struct {
	set  string
	kind resource.Kind
	name string
}

// decl is one named declaration bound to its deterministic id.
type decl struct {
	key  declKey
	id   resource.ID
	spec resource.Spec
	ctr  *containerDecl
}

// resolve merges parsed documents and resolves every name reference into
// a resource id. All failures are collected: duplicate names and invalid
// specs surface as *resource.SpecError, unresolved references as
// *graph.DanglingDependencyError.
func resolve(docs []*document) ([]resource.Node, error) {
	decls := make(map[declKey]*decl)
	var order []*decl
	var errs []error

	register := func(set string, kind resource.Kind, name string, spec resource.Spec, ctr *containerDecl) {
		k := declKey{set: set, kind: kind, name: name}
		id := resource.DeterministicID(set, kind, name)
		if _, dup := decls[k]; dup {
			errs = append(errs, &resource.SpecError{
				ID:     id,
				Kind:   kind,
				Field:  "name",
				Reason: fmt.Sprintf("duplicate %s %q in set %q", kind, name, set),
			})
			return
		}
		d := &decl{key: k, id: id, spec: spec, ctr: ctr}
		decls[k] = d
		order = append(order, d)
	}

	for _, doc := range docs {
		for _, name := range slices.Sorted(maps.Keys(doc.Images)) {
			register(doc.Set, resource.KindImage, name, doc.Images[name], nil)
		}
		for _, name := range slices.Sorted(maps.Keys(doc.Volumes)) {
			register(doc.Set, resource.KindVolume, name, doc.Volumes[name], nil)
		}
		for _, name := range slices.Sorted(maps.Keys(doc.Networks)) {
			register(doc.Set, resource.KindNetwork, name, doc.Networks[name], nil)
		}
		for _, name := range slices.Sorted(maps.Keys(doc.Containers)) {
			register(doc.Set, resource.KindContainer, name, nil, doc.Containers[name])
		}
	}

	// Deterministic output order: kind precedence, then set, then name.
	rank := make(map[resource.Kind]int, len(resource.AllKinds()))
	for i, k := range resource.AllKinds() {
		rank[k] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i].key, order[j].key
		if rank[a.kind] != rank[b.kind] {
			return rank[a.kind] < rank[b.kind]
		}
		if a.set != b.set {
			return a.set < b.set
		}
		return a.name < b.name
	})

	nodes := make([]resource.Node, 0, len(order))
	for _, d := range order {
		spec := d.spec
		var declErrs []error
		if d.key.kind == resource.KindContainer {
			spec, declErrs = resolveContainer(d, decls)
		}

		node := resource.Node{
			ID:   d.id,
			Kind: d.key.kind,
			Name: d.key.name,
			Set:  d.key.set,
			Spec: spec,
		}
		if len(declErrs) == 0 {
			if err := node.Validate(); err != nil {
				declErrs = append(declErrs, err)
			}
		}
		errs = append(errs, declErrs...)
		nodes = append(nodes, node)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nodes, nil
}

// resolveContainer converts a container declaration into a spec with
// every name reference resolved. References only resolve within the
// declaration's own workload set.
func resolveContainer(d *decl, decls map[declKey]*decl) (resource.Spec, []error) {
	c := d.ctr
	var errs []error
	var missing []resource.ID

	ref := func(kind resource.Kind, name string) resource.ID {
		target, ok := decls[declKey{set: d.key.set, kind: kind, name: name}]
		if !ok {
			// Report the kind/name form: the id of an undeclared
			// resource would name something the manifest never wrote.
			missing = append(missing, resource.ID(string(kind)+"/"+name))
			return ""
		}
		return target.id
	}

	spec := &resource.ContainerSpec{
		Image:         ref(resource.KindImage, c.Image),
		Command:       c.Command,
		Env:           c.Env,
		Hostname:      c.Hostname,
		RestartPolicy: c.RestartPolicy,
		RunState:      c.RunState,
		Privileged:    c.Privileged,
		NetworkMode:   c.NetworkMode,
		Binds:         c.Binds,
		Ports:         c.Ports,
		ExtraHosts:    c.ExtraHosts,
		CapAdd:        c.CapAdd,
		CapDrop:       c.CapDrop,
		MemoryLimit:   c.MemoryLimit,
		CPUQuota:      c.CPUQuota,
		Labels:        c.Labels,
	}

	for _, name := range c.Networks {
		if id := ref(resource.KindNetwork, name); !id.IsZero() {
			spec.Networks = append(spec.Networks, id)
		}
	}
	for _, m := range c.Mounts {
		id := ref(resource.KindVolume, m.Volume)
		if id.IsZero() {
			continue
		}
		spec.Mounts = append(spec.Mounts, resource.Mount{
			Volume:   id,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	for _, name := range c.DependsOn {
		target, ok := decls[declKey{set: d.key.set, kind: resource.KindContainer, name: name}]
		if !ok {
			missing = append(missing, resource.ID(string(resource.KindContainer)+"/"+name))
			continue
		}
		if target.ctr.RunState == resource.RunStateStopped {
			errs = append(errs, &resource.SpecError{
				ID:     d.id,
				Kind:   resource.KindContainer,
				Field:  "depends_on",
				Reason: fmt.Sprintf("container %q has run_state stopped and can never become ready", name),
			})
			continue
		}
		spec.DependsOn = append(spec.DependsOn, target.id)
	}

	if len(missing) > 0 {
		errs = append(errs, &graph.DanglingDependencyError{ID: d.id, Missing: missing})
	}
	return spec, errs
}
