// Package inventory loads the campus inventory: devices, seeds, gateways,
// credential sources, and the timing and retry budgets for a run.
package inventory

import (
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vlanhop/vlanhop/pkg/change"
	"github.com/vlanhop/vlanhop/pkg/dialect"
	"github.com/vlanhop/vlanhop/pkg/resolver"
	"github.com/vlanhop/vlanhop/pkg/retry"
	"github.com/vlanhop/vlanhop/pkg/session"
	"github.com/vlanhop/vlanhop/pkg/topology"
	"github.com/vlanhop/vlanhop/pkg/util"
)

// Inventory is the parsed inventory file.
type Inventory struct {
	Defaults     Defaults             `yaml:"defaults"`
	Devices      map[string]DeviceDef `yaml:"devices"`
	Seeds        []string             `yaml:"seeds"`
	Gateways     []GatewayDef         `yaml:"gateways"`
	Credentials  []CredentialDef      `yaml:"credentials"`
	Walk         Walk                 `yaml:"walk"`
	Timing       Timing               `yaml:"timing"`
	Retry        Retry                `yaml:"retry"`
	AllowedVLANs string               `yaml:"allowed_vlans"`
	SSH          SSH                  `yaml:"ssh"`
	Lock         Lock                 `yaml:"lock"`
	Archive      Archive              `yaml:"archive"`

	allowed util.VLANSet
}

// Defaults fill fields a device leaves empty.
type Defaults struct {
	DeviceType string `yaml:"device_type"`
	Port       int    `yaml:"port"`
}

// DeviceDef is one switch.
type DeviceDef struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	DeviceType string `yaml:"device_type"`
	Role       string `yaml:"role"`
}

// GatewayDef maps a subnet to the device holding its ARP table.
type GatewayDef struct {
	Subnet string `yaml:"subnet"`
	Device string `yaml:"device"`
}

// CredentialDef names the environment variables holding one credential set.
type CredentialDef struct {
	Name        string `yaml:"name"`
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
	EnableEnv   string `yaml:"enable_env"`
}

type Walk struct {
	MaxHops int `yaml:"max_hops"`
}

type Timing struct {
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	SaveTimeout     time.Duration `yaml:"save_timeout"`
	RollbackTimeout time.Duration `yaml:"rollback_timeout"`
	BaselineLatency time.Duration `yaml:"baseline_latency"`
	MaxMultiplier   float64       `yaml:"max_multiplier"`
}

type Retry struct {
	Command  *retry.Policy `yaml:"command"`
	Config   *retry.Policy `yaml:"config"`
	Save     *retry.Policy `yaml:"save"`
	Rollback *retry.Policy `yaml:"rollback"`
}

type SSH struct {
	KnownHosts       string `yaml:"known_hosts"`
	LegacyAlgorithms bool   `yaml:"legacy_algorithms"`
}

// Lock enables the Redis device lock when Redis is set.
type Lock struct {
	Redis string        `yaml:"redis"`
	DB    int           `yaml:"db"`
	TTL   time.Duration `yaml:"ttl"`
}

// Archive enables shipping run records over SFTP when Host is set.
type Archive struct {
	Host        string `yaml:"host"`
	Dir         string `yaml:"dir"`
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
	KnownHosts  string `yaml:"known_hosts"`
}

// Load reads and validates an inventory file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory %s: %w", path, err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	return inv, nil
}

// Parse decodes and validates inventory YAML.
func Parse(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	inv.applyDefaults()
	if err := inv.validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (inv *Inventory) applyDefaults() {
	if inv.Defaults.DeviceType == "" {
		inv.Defaults.DeviceType = "cisco_ios"
	}
	if inv.Defaults.Port == 0 {
		inv.Defaults.Port = 22
	}
	for name, d := range inv.Devices {
		if d.DeviceType == "" {
			d.DeviceType = inv.Defaults.DeviceType
		}
		if d.Port == 0 {
			d.Port = inv.Defaults.Port
		}
		inv.Devices[name] = d
	}
	if inv.Walk.MaxHops == 0 {
		inv.Walk.MaxHops = topology.DefaultMaxHops
	}
}

func (inv *Inventory) validate() error {
	v := &util.ValidationBuilder{}

	v.Add(len(inv.Devices) > 0, "at least one device is required")
	for name, d := range inv.Devices {
		if d.Host == "" {
			v.AddErrorf("device '%s' has no host", name)
		}
		if _, err := dialect.Lookup(d.DeviceType); err != nil {
			v.AddErrorf("device '%s': %v", name, err)
		}
	}

	v.Add(len(inv.Seeds) > 0, "at least one seed is required")
	for _, s := range inv.Seeds {
		if _, ok := inv.Devices[s]; !ok {
			v.AddErrorf("seed '%s' is not a device", s)
		}
	}
	for i, g := range inv.Gateways {
		if _, err := netip.ParsePrefix(g.Subnet); err != nil {
			v.AddErrorf("gateway %d: invalid subnet '%s'", i, g.Subnet)
		}
		if _, ok := inv.Devices[g.Device]; !ok {
			v.AddErrorf("gateway %d: device '%s' is not a device", i, g.Device)
		}
	}

	v.Add(len(inv.Credentials) > 0, "at least one credential set is required")
	seen := map[string]bool{}
	for i, c := range inv.Credentials {
		switch {
		case c.Name == "":
			v.AddErrorf("credential %d has no name", i)
		case seen[c.Name]:
			v.AddErrorf("credential '%s' is defined twice", c.Name)
		}
		seen[c.Name] = true
		if c.UsernameEnv == "" || c.PasswordEnv == "" {
			v.AddErrorf("credential '%s' needs username_env and password_env", c.Name)
		}
	}

	if inv.Walk.MaxHops < 1 {
		v.AddErrorf("walk.max_hops must be positive, got %d", inv.Walk.MaxHops)
	}
	if inv.Timing.MaxMultiplier != 0 && inv.Timing.MaxMultiplier < 1 {
		v.AddErrorf("timing.max_multiplier must be at least 1, got %g", inv.Timing.MaxMultiplier)
	}
	for name, p := range map[string]*retry.Policy{
		"command": inv.Retry.Command, "config": inv.Retry.Config,
		"save": inv.Retry.Save, "rollback": inv.Retry.Rollback,
	} {
		if p != nil && p.MaxAttempts < 1 {
			v.AddErrorf("retry.%s.max_attempts must be positive", name)
		}
	}
	if inv.AllowedVLANs != "" {
		set, err := util.ParseVLANSet(inv.AllowedVLANs)
		if err != nil {
			v.AddErrorf("allowed_vlans: %v", err)
		}
		inv.allowed = set
	}
	if inv.Archive.Host != "" && inv.Archive.Dir == "" {
		v.AddErrorf("archive.dir is required when archive.host is set")
	}

	return v.Build()
}

// Device returns the named device.
func (inv *Inventory) Device(name string) (session.Device, error) {
	d, ok := inv.Devices[name]
	if !ok {
		return session.Device{}, util.NewNotFoundError("device", name, "")
	}
	return session.Device{Name: name, Host: d.Host, Port: d.Port, DeviceType: d.DeviceType}, nil
}

// DeviceList returns every device, sorted by name.
func (inv *Inventory) DeviceList() []session.Device {
	names := make([]string, 0, len(inv.Devices))
	for n := range inv.Devices {
		names = append(names, n)
	}
	sort.Strings(names)
	devs := make([]session.Device, 0, len(names))
	for _, n := range names {
		d, _ := inv.Device(n)
		devs = append(devs, d)
	}
	return devs
}

// SeedDevices returns the seeds in walk order.
func (inv *Inventory) SeedDevices() []session.Device {
	devs := make([]session.Device, 0, len(inv.Seeds))
	for _, s := range inv.Seeds {
		d, _ := inv.Device(s)
		devs = append(devs, d)
	}
	return devs
}

// GatewayList returns the subnet to gateway mappings.
func (inv *Inventory) GatewayList() []resolver.Gateway {
	gws := make([]resolver.Gateway, 0, len(inv.Gateways))
	for _, g := range inv.Gateways {
		d, _ := inv.Device(g.Device)
		gws = append(gws, resolver.Gateway{Prefix: netip.MustParsePrefix(g.Subnet).Masked(), Device: d})
	}
	return gws
}

// AllowedVLANSet returns the allowed VLANs; empty allows all.
func (inv *Inventory) AllowedVLANSet() util.VLANSet { return inv.allowed }

// LoadCredentials resolves every credential set through getenv. Missing
// variables are reported together by variable name.
func (inv *Inventory) LoadCredentials(getenv func(string) string) ([]session.Credential, error) {
	var missing []string
	creds := make([]session.Credential, 0, len(inv.Credentials))
	for _, c := range inv.Credentials {
		cred := session.Credential{
			Name:     c.Name,
			Username: getenv(c.UsernameEnv),
			Password: getenv(c.PasswordEnv),
		}
		if c.EnableEnv != "" {
			cred.EnableSecret = getenv(c.EnableEnv)
		}
		if cred.Username == "" {
			missing = append(missing, c.UsernameEnv)
		}
		if cred.Password == "" {
			missing = append(missing, c.PasswordEnv)
		}
		creds = append(creds, cred)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("credential environment variables not set: %s", strings.Join(missing, ", "))
	}
	return creds, nil
}

// SessionConfig builds the broker configuration.
func (inv *Inventory) SessionConfig(creds []session.Credential) session.Config {
	cfg := session.DefaultConfig()
	cfg.Credentials = creds
	t := inv.Timing
	if t.ConnectTimeout > 0 {
		cfg.ConnectTimeout = t.ConnectTimeout
	}
	if t.ProbeTimeout > 0 {
		cfg.ProbeTimeout = t.ProbeTimeout
	}
	if t.ReadTimeout > 0 {
		cfg.ReadTimeout = t.ReadTimeout
	}
	if t.BaselineLatency > 0 {
		cfg.BaselineLatency = t.BaselineLatency
	}
	if t.MaxMultiplier > 0 {
		cfg.MaxMultiplier = t.MaxMultiplier
	}
	if inv.Retry.Command != nil {
		cfg.CommandRetry = *inv.Retry.Command
	}
	return cfg
}

// ChangeConfig builds the change engine configuration.
func (inv *Inventory) ChangeConfig() change.Config {
	cfg := change.DefaultConfig()
	if inv.Retry.Config != nil {
		cfg.ConfigRetry = *inv.Retry.Config
	}
	if inv.Retry.Save != nil {
		cfg.SaveRetry = *inv.Retry.Save
	}
	if inv.Retry.Rollback != nil {
		cfg.RollbackRetry = *inv.Retry.Rollback
	}
	if inv.Timing.SaveTimeout > 0 {
		cfg.SaveTimeout = inv.Timing.SaveTimeout
	}
	if inv.Timing.RollbackTimeout > 0 {
		cfg.RollbackTimeout = inv.Timing.RollbackTimeout
	}
	cfg.AllowedVLANs = inv.allowed
	return cfg
}
