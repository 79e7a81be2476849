// Package policy provides Open Policy Agent (OPA) admission control for
// desired workloads.
//
// Policies are Rego modules whose `deny` set yields findings. The engine
// evaluates every enabled policy against two input documents: a desired
// resource node before a snapshot becomes desired state, and an
// execution plan before it runs. Findings at error or critical severity
// reject admission; info and warning findings pass through to the log
// and the event bus.
//
// # Usage
//
// Creating an engine and gating the reconciler with it:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPaths(ctx, []string{"/etc/stevedore/policies"}); err != nil {
//	    return err
//	}
//
//	rec := engine.NewReconciler(engine.Config{
//	    Gateway: gw,
//	    Store:   store,
//	    Policy:  policy.NewGate(eng, events, logger),
//	})
//
// Evaluating directly:
//
//	result, err := eng.EvaluateNode(ctx, node)
//	if err != nil {
//	    return err
//	}
//	for _, v := range result.Violations {
//	    fmt.Printf("%s: %s\n", v.Policy, v.Message)
//	}
//
// # Built-in policies
//
// Every engine starts with the built-in set:
//
//   - no-privileged-containers - rejects privileged mode (error)
//   - image-tag-pinning - warns about :latest and untagged references
//   - bind-mount-paths - rejects host binds outside /var/lib/stevedore (error)
//   - host-network-mode - warns about host networking
//   - bulk-removal - warns when a plan removes more than five resources
//
// # Custom policies
//
// Custom policies load from .rego files (severity defaults to warning;
// rules escalate per violation) or .json files carrying a full Policy:
//
//	package acme.policies.memory
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.node.kind == "container"
//	    not input.node.spec.memory_limit
//
//	    violation := {
//	        "message": sprintf("container %s sets no memory limit", [input.node.name]),
//	        "severity": "error",
//	        "resource": input.node.id,
//	    }
//	}
//
// The deny query is derived from each module's own package path, so
// custom packages need no registration. Engine.Watch hot-reloads the
// configured paths; a reload that fails to compile keeps the active set.
package policy
