package descriptor

// ScaffoldFile is one file written by the init command.
type ScaffoldFile struct {
	Path    string
	Content string
	Mode    uint32
}

// Scaffold returns the files of a new build context for a Python unit:
// a CUE descriptor, an empty manifest, the src and data directories and an
// env-file example for the deployer.
func Scaffold(name string) []ScaffoldFile {
	return []ScaffoldFile{
		{Path: "unit.cue", Content: scaffoldUnit(name), Mode: 0o644},
		{Path: "requirements.txt", Content: "# One package specifier per line.\n", Mode: 0o644},
		{Path: "src/main.py", Content: scaffoldMain, Mode: 0o644},
		{Path: "data/.keep", Content: "", Mode: 0o644},
		{Path: ".env.example", Content: "TOKEN=\n", Mode: 0o600},
	}
}

func scaffoldUnit(name string) string {
	return `unit: {
	name: "` + name + `"

	runtime: {
		command: "python3"
		version: "3.11"
	}

	workdir:  "/app"
	manifest: "requirements.txt"

	install: {
		mode:    "manifest"
		command: ["${runtime}", "-m", "pip", "install", "--no-cache-dir", "--target", "${workdir}/.deps", "-r", "${manifest}"]
		timeout: "10m"
	}

	stage: [
		{source: "src", target: "src"},
		{source: "data", target: "/app/data"},
	]

	env: [
		{name: "PYTHONPATH", value: "${workdir}/.deps"},
		{name: "TOKEN", value: "<telegram-bot-token>", secret: true},
	]

	entrypoint: ["${runtime}", "src/main.py"]
}
`
}

const scaffoldMain = `import os
import sys

token = os.getenv("TOKEN")
if not token:
    sys.exit("TOKEN environment variable not set.")
print("started")
`
