package gateway

import "github.com/stevedore-io/stevedore/pkg/resource"

// Engine objects created through the gateway are stamped with these
// labels. They carry everything rehydration needs to re-associate an
// engine object with its logical resource.
const (
	// LabelResourceID holds the logical resource id.
	LabelResourceID = "io.stevedore.resource-id"

	// LabelFingerprint holds the spec fingerprint the object was created
	// from.
	LabelFingerprint = "io.stevedore.fingerprint"

	// LabelManaged marks an object as owned by this agent. Always "true".
	LabelManaged = "io.stevedore.managed"

	// LabelWorkloadSet holds the workload set the resource belongs to.
	LabelWorkloadSet = "io.stevedore.workload-set"
)

// ManagedLabels builds the label set stamped on a created object. User
// labels are merged in first so management labels always win.
func ManagedLabels(node resource.Node, fp resource.Fingerprint, user map[string]string) map[string]string {
	labels := make(map[string]string, len(user)+4)
	for k, v := range user {
		labels[k] = v
	}
	labels[LabelResourceID] = string(node.ID)
	labels[LabelFingerprint] = string(fp)
	labels[LabelManaged] = "true"
	if node.Set != "" {
		labels[LabelWorkloadSet] = node.Set
	}
	return labels
}

// IsManaged reports whether a label set carries the management marker.
func IsManaged(labels map[string]string) bool {
	return labels[LabelManaged] == "true"
}

// ResourceIDFromLabels extracts the logical resource id, if present.
func ResourceIDFromLabels(labels map[string]string) resource.ID {
	return resource.ID(labels[LabelResourceID])
}

// FingerprintFromLabels extracts the fingerprint label, if present.
func FingerprintFromLabels(labels map[string]string) resource.Fingerprint {
	return resource.Fingerprint(labels[LabelFingerprint])
}
