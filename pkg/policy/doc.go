// Package policy evaluates unit descriptors against Open Policy Agent (OPA)
// Rego policies.
//
// Schema and struct validation in pkg/descriptor decide whether a descriptor
// is well formed. Policies decide whether it is acceptable: that a secret
// ships only a placeholder, that secrets are not also passed through from the
// host, that the runtime is pinned.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/launcher/policies"}); err != nil {
//	    return err
//	}
//	if _, err := eng.Check(ctx, unit, "unit.cue", "build"); err != nil {
//	    return err // POLICY_DENIED configuration error
//	}
//
// # Built-in Policies
//
//  1. secret-placeholder (error) - secret values must look like <name> or CHANGE_ME
//  2. secret-isolation (error) - secrets must not appear in passthrough
//  3. plain-credential (warning) - credential-like plain variables
//  4. runtime-pinned (warning) - runtime.version should be set
//  5. workdir-root (error) - workdir must not be "/"
//  6. entrypoint-runtime (warning) - entrypoint should not rely on PATH
//
// # Custom Policies
//
// Each policy is a Rego v1 module with a deny set. Elements are either a
// message string or an object with message, field and severity keys. The
// input document is {"unit": <descriptor>, "context": {"operation": ...}}:
//
//	# Bots must not run from /tmp.
//	# severity: error
//	package custom.workdir
//
//	import rego.v1
//
//	deny contains "workdir must not be under /tmp" if {
//	    startswith(input.unit.workdir, "/tmp")
//	}
//
// Files without a severity comment default to warning. JSON definitions
// carry name, description, severity and rego fields.
//
// # Hot Reload
//
// Loader.Watch reloads policy files on change; the watch command passes the
// result to Engine.Replace so the next rebuild sees the new set.
package policy
