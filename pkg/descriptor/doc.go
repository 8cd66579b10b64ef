// Package descriptor loads and validates unit descriptors.
//
// A unit descriptor states how a deployable unit is assembled and started:
// the base runtime, the working directory, the dependency manifest and its
// installer, the source and data directories to stage, the environment
// variables to declare (including secrets, shipped only as placeholders)
// and the fixed entry point.
//
// Descriptors are written in CUE (primary), YAML or Starlark:
//
//	unit: {
//		name: "tagger"
//		runtime: {command: "python3", version: "3.11"}
//		workdir:  "/app"
//		manifest: "requirements.txt"
//		install: command: ["${runtime}", "-m", "pip", "install", "-r", "${manifest}"]
//		stage: [{source: "src", target: "src"}, {source: "data", target: "/app/data"}]
//		env: [{name: "TOKEN", value: "<telegram-bot-token>", secret: true}]
//		entrypoint: ["${runtime}", "src/main.py"]
//	}
//
// Every format is checked against the same #Unit CUE schema and the
// validator struct tags on Unit, followed by path and install-mode rules.
//
// Template variables (${runtime}, ${root}, ${workdir}, ${manifest},
// ${package}) are expanded by Expand; an unknown variable is an error.
package descriptor
