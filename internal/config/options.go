package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/spf13/viper"
)

const (
	// OptionsFileName is the tool options file looked up from the working directory.
	OptionsFileName = ".shipit.yaml"
	// GlobalOptionsDir is the directory for global options.
	GlobalOptionsDir = ".config/shipit"
	// GlobalOptionsFile is the global options file name.
	GlobalOptionsFile = "config.yaml"
	// DefaultRecipeFile is used when no recipe is configured.
	DefaultRecipeFile = "shipit.yaml"
	// EnvPrefix prefixes environment overrides, e.g. SHIPIT_LIMIT=4.
	EnvPrefix = "SHIPIT"
)

// Options are the tool's own settings, as opposed to the deployment
// Configuration that recipes populate.
type Options struct {
	// Recipe is the path of the YAML recipe to load.
	Recipe string `yaml:"recipe" mapstructure:"recipe"`

	// Limit caps how many hosts run a task at once. 0 means unlimited.
	Limit int `yaml:"limit" mapstructure:"limit"`

	// NoInteraction answers every prompt with its default.
	NoInteraction bool `yaml:"no_interaction" mapstructure:"no_interaction"`

	// InProcess runs workers as goroutines instead of subprocesses.
	InProcess bool `yaml:"in_process" mapstructure:"in_process"`

	// Log is an optional file receiving a copy of all run output.
	Log string `yaml:"log" mapstructure:"log"`

	// Color mode: "auto", "always", or "never".
	Color string `yaml:"color" mapstructure:"color"`

	SSH SSHOptions `yaml:"ssh" mapstructure:"ssh"`

	// Config holds global configuration defaults applied before the recipe's.
	Config map[string]any `yaml:"config" mapstructure:"config"`
}

// SSHOptions are transport defaults. Hosts override them through their
// own configuration keys.
type SSHOptions struct {
	// Multiplexing enables ControlMaster connection reuse.
	Multiplexing bool `yaml:"multiplexing" mapstructure:"multiplexing"`

	// Transport is "ssh" (system ssh binary) or "native" (in-process client).
	Transport string `yaml:"transport" mapstructure:"transport"`

	// Timeout bounds a single remote command. 0 disables it.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// IdleTimeout bounds the time a command may go without output. 0 disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Recipe: DefaultRecipeFile,
		Color:  "auto",
		SSH: SSHOptions{
			Multiplexing: true,
			Transport:    "ssh",
			Timeout:      300 * time.Second,
		},
		Config: make(map[string]any),
	}
}

// NewViper returns a viper instance with the defaults and environment
// bindings used by Load. The CLI binds its flags to the same instance.
func NewViper() *viper.Viper {
	v := viper.New()
	d := DefaultOptions()
	v.SetDefault("recipe", d.Recipe)
	v.SetDefault("limit", d.Limit)
	v.SetDefault("no_interaction", d.NoInteraction)
	v.SetDefault("in_process", d.InProcess)
	v.SetDefault("log", d.Log)
	v.SetDefault("color", d.Color)
	v.SetDefault("ssh.multiplexing", d.SSH.Multiplexing)
	v.SetDefault("ssh.transport", d.SSH.Transport)
	v.SetDefault("ssh.timeout", d.SSH.Timeout)
	v.SetDefault("ssh.idle_timeout", d.SSH.IdleTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads options from path into v (or a fresh instance when v is nil).
// An empty path loads defaults and environment only.
func Load(v *viper.Viper, path string) (*Options, error) {
	if v == nil {
		v = NewViper()
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					"Options file not found: "+path,
					"Check the path passed to --config")
			}
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read options file",
				"Check the file exists and is valid YAML")
		}
	}

	opts := DefaultOptions()
	if err := v.Unmarshal(opts); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid options format",
			"Check the YAML syntax in "+displayPath(path))
	}
	if opts.Config == nil {
		opts.Config = make(map[string]any)
	}
	opts.Recipe = ExpandTilde(opts.Recipe)
	opts.Log = ExpandTilde(opts.Log)

	if err := Validate(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func displayPath(path string) string {
	if path == "" {
		return "environment"
	}
	return path
}

// Find locates the options file using the search order:
// 1. Explicit path (from --config flag)
// 2. .shipit.yaml in current directory
// 3. .shipit.yaml in parent directories (stops at git root or home)
// 4. ~/.config/shipit/config.yaml (global defaults)
//
// Returns the path to the options file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified options file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access options file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	local := filepath.Join(cwd, OptionsFileName)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	home, _ := os.UserHomeDir()
	dir := cwd
	for {
		if isGitRoot(dir) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		if home != "" && parent == home {
			break
		}
		dir = parent

		candidate := filepath.Join(dir, OptionsFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if home != "" {
		global := filepath.Join(home, GlobalOptionsDir, GlobalOptionsFile)
		if _, err := os.Stat(global); err == nil {
			return global, nil
		}
	}

	return "", nil
}

// isGitRoot checks if a directory is a git repository root.
func isGitRoot(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate checks options for values the engine cannot work with.
func Validate(opts *Options) error {
	if opts.Limit < 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Limit can't be negative (got %d)", opts.Limit),
			"Use 0 for unlimited, or a positive number of hosts")
	}

	switch opts.Color {
	case "auto", "always", "never":
	default:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown color mode '%s'", opts.Color),
			"Use one of: auto, always, never")
	}

	switch opts.SSH.Transport {
	case "ssh", "native":
	default:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown transport '%s'", opts.SSH.Transport),
			"Use 'ssh' for the system client or 'native' for the built-in one")
	}

	if opts.SSH.Timeout < 0 || opts.SSH.IdleTimeout < 0 {
		return errors.New(errors.ErrConfig,
			"SSH timeouts can't be negative",
			"Use 0 to disable a timeout")
	}

	return nil
}
