package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvOverrideVars name variables that point at an env file and take
// precedence over --env, in order.
var EnvOverrideVars = []string{"INSUREWATCH_ENV_FILE", "HORSE_ENV_FILE"}

// EnvLoader applies a .env file on top of the process environment.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers --env on fs (flag.CommandLine when nil).
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}
	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

type envCandidate struct {
	path     string
	origin   string
	override bool
}

// candidates lists the files to try: override variables first, then the
// requested path, its basename in the working directory and the default.
func (l *EnvLoader) candidates() []envCandidate {
	var out []envCandidate
	seen := make(map[string]bool)
	add := func(path, origin string, override bool) {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, envCandidate{path: path, origin: origin, override: override})
	}

	for _, name := range EnvOverrideVars {
		add(os.Getenv(name), name, true)
	}
	requested := l.defaultPath
	if l.value != nil && strings.TrimSpace(*l.value) != "" {
		requested = strings.TrimSpace(*l.value)
	}
	add(requested, "--env", false)
	add(filepath.Base(requested), "basename fallback", false)
	add(l.defaultPath, "default", false)
	return out
}

// Load overloads the first readable candidate and returns its path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}
	log.SetOutput(os.Stderr)

	candidates := l.candidates()
	for _, c := range candidates {
		if err := godotenv.Overload(c.path); err != nil {
			if c.override {
				log.Printf("Warning: failed to load %s=%s: %v", c.origin, c.path, err)
			}
			continue
		}
		log.Printf("Loaded environment from %s (%s)", c.path, c.origin)
		return c.path, nil
	}

	tried := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tried = append(tried, c.path)
	}
	return "", fmt.Errorf("failed to load env file (tried %s)", strings.Join(tried, ", "))
}
