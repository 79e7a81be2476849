package policy

import (
	"time"
)

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		privilegedContainersPolicy(),
		imageTagPinningPolicy(),
		bindMountPathsPolicy(),
		hostNetworkModePolicy(),
		bulkRemovalPolicy(),
	}
}

// privilegedContainersPolicy rejects containers that request privileged
// mode.
func privilegedContainersPolicy() Policy {
	return Policy{
		Name:        "no-privileged-containers",
		Description: "Rejects containers that request privileged mode",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"containers", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stevedore.policies.privileged

import rego.v1

deny contains violation if {
	input.node.kind == "container"
	input.node.spec.privileged == true

	violation := {
		"message": sprintf("container %s requests privileged mode", [input.node.name]),
		"severity": "error",
		"resource": input.node.id,
	}
}`,
	}
}

// imageTagPinningPolicy warns about image references that float on the
// latest tag.
func imageTagPinningPolicy() Policy {
	return Policy{
		Name:        "image-tag-pinning",
		Description: "Warns about image references that resolve to the latest tag",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"images", "supply-chain"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stevedore.policies.images

import rego.v1

deny contains violation if {
	input.node.kind == "image"
	ref := input.node.spec.reference

	endswith(ref, ":latest")

	violation := {
		"message": sprintf("image %s uses the :latest tag", [ref]),
		"severity": "warning",
		"resource": input.node.id,
	}
}

deny contains violation if {
	input.node.kind == "image"
	ref := input.node.spec.reference

	# No tag on the last path segment means latest is implied. Keeping the
	# check on the last segment leaves registry ports alone.
	parts := split(ref, "/")
	not contains(parts[count(parts) - 1], ":")

	violation := {
		"message": sprintf("image %s pins no tag, latest is implied", [ref]),
		"severity": "warning",
		"resource": input.node.id,
	}
}`,
	}
}

// bindMountPathsPolicy rejects host-path binds outside the agent's data
// root.
func bindMountPathsPolicy() Policy {
	return Policy{
		Name:        "bind-mount-paths",
		Description: "Rejects host-path binds outside /var/lib/stevedore",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"containers", "filesystem"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stevedore.policies.binds

import rego.v1

allowed_prefix := "/var/lib/stevedore"

deny contains violation if {
	input.node.kind == "container"
	some bind in input.node.spec.binds

	source := split(bind, ":")[0]
	not startswith(source, allowed_prefix)

	violation := {
		"message": sprintf("container %s binds host path %s outside %s", [input.node.name, source, allowed_prefix]),
		"severity": "error",
		"resource": input.node.id,
	}
}`,
	}
}

// hostNetworkModePolicy warns about containers that join the host
// network.
func hostNetworkModePolicy() Policy {
	return Policy{
		Name:        "host-network-mode",
		Description: "Warns about containers that join the host network",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"containers", "network"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stevedore.policies.network

import rego.v1

deny contains violation if {
	input.node.kind == "container"
	input.node.spec.network_mode == "host"

	violation := {
		"message": sprintf("container %s joins the host network", [input.node.name]),
		"severity": "warning",
		"resource": input.node.id,
	}
}`,
	}
}

// bulkRemovalPolicy warns when a single plan removes many resources.
func bulkRemovalPolicy() Policy {
	return Policy{
		Name:        "bulk-removal",
		Description: "Warns when a single plan removes more than five resources",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"plans", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stevedore.policies.removals

import rego.v1

max_removals := 5

deny contains violation if {
	input.plan

	removals := count([u |
		some u in input.plan.units
		u.op == "remove"
	])
	removals > max_removals

	violation := {
		"message": sprintf("plan removes %d resources, review before applying", [removals]),
		"severity": "warning",
	}
}`,
	}
}
