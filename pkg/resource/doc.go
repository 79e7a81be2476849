// Package resource defines the workload resource model: the four managed
// resource kinds (image, volume, network, container), their specs, stable
// resource identifiers, and content fingerprints.
//
// A resource is identified by an opaque ID that is stable across agent
// restarts: manifest loaders derive deterministic ids from the workload-set
// name, the kind, and the resource name, so re-parsing the same manifest
// always yields the same graph.
//
// Every spec hashes to a Fingerprint over its canonical JSON encoding.
// Fingerprints drive the diff: equal fingerprints mean the recorded object
// still matches the desired spec, differing fingerprints mean the resource
// must be updated in place (when every changed field is mutable) or
// recreated.
//
// The kind set is closed. All per-kind behavior in this module dispatches
// through exhaustive switches or operation tables keyed by Kind; there is no
// open registration surface.
package resource
