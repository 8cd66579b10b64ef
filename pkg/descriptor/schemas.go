package descriptor

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in
// #Unit schema registered as "unit".
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("unit", "#Unit", builtinUnitSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles source and registers the definition at path
// under name.
func (sr *SchemaRegistry) RegisterSchema(name, path, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".schema.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(path))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, path)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and requires a concrete result.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates a Go value against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	_, err := sr.Unify(schemaName, dataVal)
	return err
}

// Context returns the CUE context shared by all schemas.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

const builtinUnitSchema = `
#Unit: {
	// Name groups the builds of this unit
	name: string & =~"^[a-z0-9][a-z0-9_.-]*$"

	runtime: {
		command:       string & !=""
		version?:      string
		version_args?: [...string]
	}

	// Absolute path inside the environment root
	workdir: string & =~"^/"

	// Relative to the build context
	manifest: string & !=""

	install: {
		mode?:    "manifest" | "each"
		command:  [string, ...string]
		timeout?: string
	}

	stage?: [...#StageRule]
	env?: [...#EnvVar]
	passthrough?: [...string]

	entrypoint: [string, ...string]
}

#StageRule: {
	source: string & !=""
	target: string & !=""
}

#EnvVar: {
	name:    string & =~"^[A-Za-z_][A-Za-z0-9_]*$"
	value?:  string
	secret?: bool
}
`
