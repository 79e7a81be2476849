// Package manifest ingests desired-state manifests and resolves them
// into resource nodes for the reconciler.
//
// A manifest declares one workload set: the images, volumes, networks,
// and containers of one application, each under a human-readable name.
// Containers reference the other declarations by name:
//
//	set: edge-gateway
//	images:
//	  web:
//	    reference: nginx:1.27
//	volumes:
//	  data: {}
//	networks:
//	  backend:
//	    driver: bridge
//	containers:
//	  web:
//	    image: web
//	    networks: [backend]
//	    mounts:
//	      - volume: data
//	        target: /data
//
// Three syntaxes parse into the same document: YAML (.yaml/.yml), CUE
// (.cue), and Starlark scripts (.star) that call the builder functions
// workload_set, image, volume, network, and container. Every document,
// whatever its syntax, must satisfy the embedded CUE schema before it is
// resolved.
//
// Resolution derives each declaration's id deterministically from its
// (set, kind, name) triple, so reloading an unchanged manifest always
// produces the same ids, and rewrites every name reference to the
// target's id. References resolve only within their own workload set. A
// reference to a name the collection never declares fails with a
// graph.DanglingDependencyError; duplicate names and invalid specs fail
// with resource.SpecError values.
//
// Watcher keeps a running agent in sync with the manifest files: it
// reloads on file changes after a debounce interval and hands each
// successfully resolved node set to a submit callback. Reloads that fail
// to parse are logged and published on the event bus, and the previous
// desired state stays in effect.
package manifest
