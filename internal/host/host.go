package host

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/spf13/cast"
)

// Configuration keys read by the transport layer.
const (
	KeyAlias           = "alias"
	KeyHostname        = "hostname"
	KeyRemoteUser      = "remote_user"
	KeyPort            = "port"
	KeyIdentityFile    = "identity_file"
	KeyConfigFile      = "config_file"
	KeyForwardAgent    = "forward_agent"
	KeySSHMultiplexing = "ssh_multiplexing"
	KeySSHArguments    = "ssh_arguments"
	KeySSHControlPath  = "ssh_control_path"
	KeyShell           = "shell"
	KeyBecome          = "become"
	KeyLabels          = "labels"
	KeyTransport       = "transport"
)

// DefaultShell is the remote shell commands are piped into.
const DefaultShell = "bash -ls"

// LocalAlias is the alias of the synthetic local host.
const LocalAlias = "local"

// Host is a deployment target: an immutable alias plus its own
// configuration scope layered over the global one.
type Host struct {
	alias string
	local bool
	cfg   *config.Configuration
}

// New creates a host whose configuration inherits from global.
func New(alias string, global *config.Configuration) *Host {
	cfg := config.New(global)
	cfg.Set(KeyAlias, alias)
	return &Host{alias: alias, cfg: cfg}
}

// NewLocalhost creates the pseudo-host used by local tasks. Its commands
// run on the machine running shipit.
func NewLocalhost(global *config.Configuration) *Host {
	h := New(LocalAlias, global)
	h.local = true
	h.cfg.Set(KeyHostname, "localhost")
	return h
}

// Alias returns the host's unique name.
func (h *Host) Alias() string { return h.alias }

// IsLocal reports whether this is the local pseudo-host.
func (h *Host) IsLocal() bool { return h.local }

// Config returns the host's configuration scope.
func (h *Host) Config() *config.Configuration { return h.cfg }

// Set is shorthand for Config().Set.
func (h *Host) Set(key string, value any) *Host {
	h.cfg.Set(key, value)
	return h
}

// String returns the alias.
func (h *Host) String() string { return h.alias }

// Hostname returns the network address, defaulting to the alias.
func (h *Host) Hostname() (string, error) {
	return h.cfg.GetString(KeyHostname, h.alias)
}

// Labels returns the host's labels with every value normalized to a list.
// The alias is always present under "alias".
func (h *Host) Labels() (map[string][]string, error) {
	raw, err := h.cfg.GetDefault(KeyLabels, nil)
	if err != nil {
		return nil, err
	}

	out := map[string][]string{KeyAlias: {h.alias}}
	if raw == nil {
		return out, nil
	}

	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Labels of host %q must be a map", h.alias),
			"Use labels: {role: web, stage: prod}")
	}
	for k, v := range m {
		switch v.(type) {
		case []any, []string:
			out[k] = cast.ToStringSlice(v)
		default:
			out[k] = []string{cast.ToString(v)}
		}
	}
	return out, nil
}

// ConnectionOptions are the transport-relevant attributes of a host,
// resolved through its configuration scope.
type ConnectionOptions struct {
	Alias        string   `mapstructure:"alias"`
	Hostname     string   `mapstructure:"hostname"`
	RemoteUser   string   `mapstructure:"remote_user"`
	Port         int      `mapstructure:"port"`
	IdentityFile string   `mapstructure:"identity_file"`
	ConfigFile   string   `mapstructure:"config_file"`
	ForwardAgent bool     `mapstructure:"forward_agent"`
	Multiplexing bool     `mapstructure:"ssh_multiplexing"`
	Arguments    []string `mapstructure:"ssh_arguments"`
	ControlPath  string   `mapstructure:"ssh_control_path"`
	Shell        string   `mapstructure:"shell"`
	Become       string   `mapstructure:"become"`
	Transport    string   `mapstructure:"transport"`
}

// connectionKeys lists the keys decoded into ConnectionOptions.
var connectionKeys = []string{
	KeyHostname, KeyRemoteUser, KeyPort, KeyIdentityFile, KeyConfigFile,
	KeyForwardAgent, KeySSHMultiplexing, KeySSHArguments, KeySSHControlPath,
	KeyShell, KeyBecome, KeyTransport,
}

// ConnectionOptions resolves every connection attribute of the host.
func (h *Host) ConnectionOptions() (ConnectionOptions, error) {
	input := map[string]any{KeyAlias: h.alias}
	for _, key := range connectionKeys {
		v, err := h.cfg.GetDefault(key, nil)
		if err != nil {
			return ConnectionOptions{}, err
		}
		if v != nil {
			input[key] = v
		}
	}

	opts := ConnectionOptions{
		Hostname: h.alias,
		Shell:    DefaultShell,
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return ConnectionOptions{}, err
	}
	if err := dec.Decode(input); err != nil {
		return ConnectionOptions{}, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Invalid connection settings for host %q", h.alias),
			"Check hostname, port and ssh_* keys for this host")
	}
	if opts.Hostname == "" {
		opts.Hostname = h.alias
	}
	if opts.Shell == "" {
		opts.Shell = DefaultShell
	}
	return opts, nil
}

// ConnectionString returns user@hostname, or just hostname without a user.
func (o ConnectionOptions) ConnectionString() string {
	if o.RemoteUser != "" {
		return o.RemoteUser + "@" + o.Hostname
	}
	return o.Hostname
}

// Describe renders a one-line summary for listings.
func (h *Host) Describe() string {
	opts, err := h.ConnectionOptions()
	if err != nil {
		return h.alias
	}
	labels, _ := h.Labels()
	var parts []string
	for k, v := range labels {
		if k == KeyAlias {
			continue
		}
		parts = append(parts, k+"="+strings.Join(v, "|"))
	}
	sort.Strings(parts)

	target := opts.ConnectionString()
	if opts.Port != 0 {
		target = fmt.Sprintf("%s:%d", target, opts.Port)
	}
	if len(parts) == 0 {
		return target
	}
	return target + " [" + strings.Join(parts, " ") + "]"
}
