package policy

// Builtin returns the policies every engine starts with.
func Builtin() []Policy {
	return []Policy{
		secretPlaceholderPolicy(),
		secretIsolationPolicy(),
		plainCredentialPolicy(),
		runtimePinnedPolicy(),
		workdirRootPolicy(),
		entrypointPolicy(),
	}
}

// secretPlaceholderPolicy rejects secrets whose committed value looks like
// a real credential. Deployers replace the placeholder at run time.
func secretPlaceholderPolicy() Policy {
	return Policy{
		Name:        "secret-placeholder",
		Description: "Secret variables must ship a placeholder such as <token> or CHANGE_ME, never a real value",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package launcher.policies.secrets

import rego.v1

placeholder(v) if regex.match("^<[^<>]+>$", v)

placeholder(v) if {
	some marker in ["CHANGE_ME", "CHANGEME", "REPLACE_ME", "REDACTED"]
	contains(upper(v), marker)
}

deny contains violation if {
	some e in input.unit.env
	object.get(e, "secret", false)
	value := object.get(e, "value", "")
	value != ""
	not placeholder(value)
	violation := {
		"field": sprintf("env.%s", [e.name]),
		"message": "secret value does not look like a placeholder; commit <name> or CHANGE_ME and supply the real value at run time",
	}
}
`,
	}
}

// secretIsolationPolicy keeps secrets out of the host pass-through list so
// the only way a secret reaches the process is the explicit declaration.
func secretIsolationPolicy() Policy {
	return Policy{
		Name:        "secret-isolation",
		Description: "Secret variables must not also be passed through from the host",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package launcher.policies.isolation

import rego.v1

deny contains violation if {
	some e in input.unit.env
	object.get(e, "secret", false)
	some name in object.get(input.unit, "passthrough", [])
	name == e.name
	violation := {
		"field": "passthrough",
		"message": sprintf("%s is declared secret and must not be passed through", [e.name]),
	}
}
`,
	}
}

func plainCredentialPolicy() Policy {
	return Policy{
		Name:        "plain-credential",
		Description: "Non-secret variables named like credentials should be declared secret",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package launcher.policies.credentials

import rego.v1

deny contains violation if {
	some e in input.unit.env
	not object.get(e, "secret", false)
	object.get(e, "value", "") != ""
	regex.match("(?i)(TOKEN|SECRET|PASSWORD|PASSWD|API_KEY)$", e.name)
	violation := {
		"field": sprintf("env.%s", [e.name]),
		"message": "variable looks like a credential but is not marked secret",
	}
}
`,
	}
}

func runtimePinnedPolicy() Policy {
	return Policy{
		Name:        "runtime-pinned",
		Description: "The runtime version should be pinned so launches detect drift",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package launcher.policies.runtime

import rego.v1

deny contains violation if {
	object.get(input.unit.runtime, "version", "") == ""
	violation := {
		"field": "runtime.version",
		"message": sprintf("runtime %s has no pinned version", [input.unit.runtime.command]),
	}
}
`,
	}
}

// workdirRootPolicy rejects "/" as the working directory: the launcher keeps
// its lock under the environment root and the installer must not write there.
func workdirRootPolicy() Policy {
	return Policy{
		Name:        "workdir-root",
		Description: "The working directory must not be the environment root",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package launcher.policies.workdir

import rego.v1

deny contains violation if {
	trim_right(input.unit.workdir, "/") == ""
	violation := {
		"field": "workdir",
		"message": "must be a directory below the environment root, e.g. /app",
	}
}
`,
	}
}

func entrypointPolicy() Policy {
	return Policy{
		Name:        "entrypoint-runtime",
		Description: "The entrypoint should run through the resolved runtime or an absolute path",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package launcher.policies.entrypoint

import rego.v1

deny contains violation if {
	cmd := input.unit.entrypoint[0]
	not startswith(cmd, "${runtime}")
	not startswith(cmd, "${workdir}")
	not startswith(cmd, "/")
	violation := {
		"field": "entrypoint",
		"message": sprintf("%s is resolved through PATH at launch; prefer ${runtime}", [cmd]),
	}
}
`,
	}
}
