package model

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"
	"unicode/utf8"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/adrg/xdg"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version   int       `json:"version" yaml:"version"` // fixed 0 for now
	App       App       `json:"app" yaml:"app"`
	Sidecar   Sidecar   `json:"sidecar" yaml:"sidecar"`
	Handshake Handshake `json:"handshake" yaml:"handshake"`
	Service   Service   `json:"service" yaml:"service"`
}

// App describes the host application owning the sidecar.
type App struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	DataDir    string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // empty => $XDG_DATA_HOME/<identifier>
}

// Sidecar describes how the worker process is spawned.
type Sidecar struct {
	Name         string            `json:"name" yaml:"name"` // logical binary name
	Args         []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	ReadyTimeout string            `json:"ready_timeout" yaml:"ready_timeout"`
}

// Handshake describes the one-time initialization call.
type Handshake struct {
	URL     string `json:"url" yaml:"url"`
	Timeout string `json:"timeout" yaml:"timeout"` // "0s" disables the client timeout
}

type Service struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Log     string `json:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
	Journal string `json:"journal,omitempty" yaml:"journal,omitempty"` // sqlite file of start attempts, empty disables
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Absent fields get the schema defaults.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	return decode(schema.Unify(yamlValue))
}

// DefaultConfig returns the configuration made of schema defaults only.
func DefaultConfig() Config {
	cfg, err := decode(schema.Unify(cueCtx.CompileString("{}")))
	if err != nil {
		// schema defaults are validated in init
		panic(err)
	}
	return *cfg
}

func decode(unified cue.Value) (*Config, error) {
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadyTimeoutDuration returns the parsed readiness timeout.
func (s Sidecar) ReadyTimeoutDuration() (time.Duration, error) {
	d, err := ParseCueDuration(s.ReadyTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing sidecar.ready_timeout: %w", err)
	}
	return d, nil
}

// TimeoutDuration returns the parsed HTTP client timeout.
func (h Handshake) TimeoutDuration() (time.Duration, error) {
	d, err := ParseCueDuration(h.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing handshake.timeout: %w", err)
	}
	return d, nil
}

// ResolveDataDir returns the absolute application data directory.
func (a App) ResolveDataDir() (string, error) {
	dir := a.DataDir
	if dir == "" {
		if a.Identifier == "" {
			return "", errors.New("app.identifier is empty")
		}
		dir = filepath.Join(xdg.DataHome, a.Identifier)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving app data dir: %w", err)
	}
	if !utf8.ValidString(abs) {
		return "", errors.New("app data dir contains invalid UTF-8")
	}
	return abs, nil
}
