package launch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rhusiev/everyonetagger/pkg/engine"
)

// Config is the launch configuration. It is built once from the
// deployer's environment by NewConfig and is read-only afterwards;
// nothing downstream looks at the host environment again.
type Config struct {
	BuildID string
	Unit    string

	// Workdir is the host directory the process starts in. It is the
	// directory the dependencies were installed from.
	Workdir string

	// Argv is the fixed command line.
	Argv []string

	// Runtime is the runtime recorded at build time.
	Runtime engine.ResolvedRuntime

	// Env is the complete, sorted environment of the process.
	Env []string

	secrets []string
}

// Source supplies variable values to NewConfig.
type Source struct {
	// Lookup reads the process environment. Nil means the host's.
	Lookup engine.LookupFunc

	// EnvFiles are dotenv files consulted for names the process
	// environment does not set. Earlier files win.
	EnvFiles []string
}

// NewConfig resolves every secret declared by env and assembles the
// process environment. A secret that is unset, empty or still equal to
// its shipped placeholder is a configuration error.
func NewConfig(env *engine.Environment, src Source) (*Config, error) {
	lookup := src.Lookup
	if lookup == nil {
		lookup = engine.HostLookup()
	}

	fileVars := map[string]string{}
	if len(src.EnvFiles) > 0 {
		// godotenv.Read lets later files override earlier ones.
		for i := len(src.EnvFiles) - 1; i >= 0; i-- {
			vars, err := godotenv.Read(src.EnvFiles[i])
			if err != nil {
				return nil, engine.NewConfigError(fmt.Sprintf("failed to read env file %s", src.EnvFiles[i]), err).
					WithCode(engine.ErrCodeEnvFile)
			}
			for k, v := range vars {
				fileVars[k] = v
			}
		}
	}
	resolve := func(name string) (string, bool) {
		if v, ok := lookup(name); ok {
			return v, true
		}
		v, ok := fileVars[name]
		return v, ok
	}

	set := make(map[string]string, len(env.Env))
	var secrets []string
	for _, decl := range env.Env {
		if !decl.Secret {
			set[decl.Name] = decl.Value
			continue
		}
		val, err := resolveSecret(decl, resolve)
		if err != nil {
			return nil, err
		}
		set[decl.Name] = val
		secrets = append(secrets, decl.Name)
	}
	sort.Strings(secrets)

	return &Config{
		BuildID: env.BuildID,
		Unit:    env.Unit,
		Workdir: env.HostWorkdir,
		Argv:    append([]string(nil), env.Entrypoint...),
		Runtime: env.Runtime,
		Env:     engine.Environ(resolve, env.Passthrough, set),
		secrets: secrets,
	}, nil
}

func resolveSecret(decl engine.EnvDecl, resolve engine.LookupFunc) (string, error) {
	val, ok := resolve(decl.Name)
	switch {
	case !ok:
		return "", engine.NewConfigError(fmt.Sprintf("%s is not set", decl.Name), nil).
			WithCode(engine.ErrCodeSecretMissing).
			WithDetail("variable", decl.Name)
	case val == "":
		return "", engine.NewConfigError(fmt.Sprintf("%s is empty", decl.Name), nil).
			WithCode(engine.ErrCodeSecretMissing).
			WithDetail("variable", decl.Name)
	case val == decl.Value:
		return "", engine.NewConfigError(
			fmt.Sprintf("%s still holds the placeholder %q; supply the real value at deployment", decl.Name, decl.Value), nil).
			WithCode(engine.ErrCodeSecretPlaceholder).
			WithDetail("variable", decl.Name)
	}
	return val, nil
}

// SecretNames returns the names of the injected secrets.
func (c *Config) SecretNames() []string {
	return append([]string(nil), c.secrets...)
}

// Redacted returns Env with secret values masked, for logging.
func (c *Config) Redacted() []string {
	secret := make(map[string]bool, len(c.secrets))
	for _, s := range c.secrets {
		secret[s] = true
	}
	out := make([]string, len(c.Env))
	for i, kv := range c.Env {
		if name, _, _ := strings.Cut(kv, "="); secret[name] {
			out[i] = name + "=***"
		} else {
			out[i] = kv
		}
	}
	return out
}
