package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/mevdschee/tqpump/content"
	"github.com/mevdschee/tqpump/placement"
	"github.com/mevdschee/tqpump/query"
	"github.com/mevdschee/tqpump/session"
)

var (
	// ErrNoModule is returned when no transform module is configured
	ErrNoModule = errors.New("config: transform module is required")

	// ErrNoHosts is returned when the [hosts] section is empty
	ErrNoHosts = errors.New("config: at least one host is required")

	// ErrNoPartitions is returned when direct placement has no partitions
	ErrNoPartitions = errors.New("config: direct placement requires partitions")

	// ErrUnknownHost is returned when a partition names a host not in [hosts]
	ErrUnknownHost = errors.New("config: partition on unknown host")
)

// Config holds the load job configuration
type Config struct {
	Job        JobConfig
	Transform  TransformConfig
	Output     OutputConfig
	Hosts      []Host            // [hosts], in file order
	Partitions []session.Target  // [partitions], in file order
	Mimetypes  content.Mimetypes // defaults merged with [mimetypes] and mimetypes_file
}

// JobConfig holds the [job] section
type JobConfig struct {
	Input          string        // File, directory, zip or zst archive to load
	Driver         string        // SQL driver of the store
	Table          string        // Document table
	ServerVersion  int64         // Store version, selects batching support
	TaskID         string        // Empty for a random ID
	MetricsListen  string        // Address of the metrics endpoint, empty disables it
	HealthInterval time.Duration // Host health check interval
}

// TransformConfig holds the [transform] section
type TransformConfig struct {
	Module    string
	Namespace string
	Function  string
	Param     string
}

// OutputConfig holds the [output] section
type OutputConfig struct {
	ContentType     content.Type
	Encoding        string
	BatchSize       int
	TxnSize         int
	DirectPlacement bool
	Policy          placement.Policy
	URIPrefix       string
	Metadata        content.Metadata
	MimetypesFile   string
}

// Host is a named store host and its data source name
type Host struct {
	Name string
	DSN  string
}

// Load reads configuration from an INI file with environment variable overrides
func Load(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return parse(cfg)
}

// Parse reads configuration from INI source text with environment variable
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, err
	}
	return parse(cfg)
}

func parse(cfg *ini.File) (*Config, error) {
	job := cfg.Section("job")
	config := &Config{
		Job: JobConfig{
			Input:          job.Key("input").String(),
			Driver:         job.Key("driver").MustString("postgres"),
			Table:          job.Key("table").MustString("documents"),
			ServerVersion:  job.Key("server_version").MustInt64(query.BatchMinVersion),
			TaskID:         job.Key("task_id").String(),
			MetricsListen:  ":9090",
			HealthInterval: job.Key("health_interval").MustDuration(10 * time.Second),
		},
	}

	// an empty metrics_listen disables the endpoint
	if job.HasKey("metrics_listen") {
		config.Job.MetricsListen = job.Key("metrics_listen").String()
	}

	tr := cfg.Section("transform")
	config.Transform = TransformConfig{
		Module:    tr.Key("module").String(),
		Namespace: tr.Key("namespace").String(),
		Function:  tr.Key("function").MustString("transform"),
		Param:     tr.Key("param").String(),
	}

	out, err := loadOutput(cfg.Section("output"))
	if err != nil {
		return nil, err
	}
	config.Output = out

	for _, key := range cfg.Section("hosts").Keys() {
		config.Hosts = append(config.Hosts, Host{Name: key.Name(), DSN: key.String()})
	}
	for _, key := range cfg.Section("partitions").Keys() {
		config.Partitions = append(config.Partitions, session.Target{Host: key.String(), Partition: key.Name()})
	}

	config.Mimetypes = content.DefaultMimetypes()
	if path := config.Output.MimetypesFile; path != "" {
		m, err := content.LoadMimetypes(path)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			config.Mimetypes[k] = v
		}
	}
	if sec := cfg.Section("mimetypes"); len(sec.Keys()) > 0 {
		m, err := content.ParseMimetypes(sec.KeysHash())
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			config.Mimetypes[k] = v
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadOutput(sec *ini.Section) (OutputConfig, error) {
	out := OutputConfig{
		Encoding:        sec.Key("encoding").MustString("UTF-8"),
		BatchSize:       sec.Key("batch_size").MustInt(100),
		TxnSize:         sec.Key("txn_size").MustInt(1),
		DirectPlacement: sec.Key("direct_placement").MustBool(false),
		Policy:          placement.Policy(sec.Key("placement").MustString(string(placement.PolicyLegacy))),
		URIPrefix:       sec.Key("uri_prefix").String(),
		MimetypesFile:   sec.Key("mimetypes_file").String(),
	}

	var err error
	if out.ContentType, err = content.ParseType(sec.Key("content_type").MustString("xml")); err != nil {
		return out, err
	}

	meta := content.Metadata{
		Namespace:          sec.Key("namespace").String(),
		Language:           sec.Key("language").String(),
		Quality:            sec.Key("quality").MustInt(0),
		TemporalCollection: sec.Key("temporal_collection").String(),
	}
	if v := sec.Key("collections").String(); v != "" {
		meta.Collections = strings.Split(v, ",")
	}
	if v := sec.Key("permissions").String(); v != "" {
		if meta.Permissions, err = content.ParsePermissions(v); err != nil {
			return out, err
		}
	}
	if v := sec.Key("repair_level").String(); v != "" {
		if meta.RepairLevel, err = content.ParseRepairLevel(v); err != nil {
			return out, err
		}
	}
	out.Metadata = meta
	return out, nil
}

// applyEnv applies TQPUMP_* environment variable overrides
func applyEnv(config *Config) error {
	if v := os.Getenv("TQPUMP_INPUT"); v != "" {
		config.Job.Input = v
	}
	if v := os.Getenv("TQPUMP_DRIVER"); v != "" {
		config.Job.Driver = v
	}
	if v := os.Getenv("TQPUMP_TASK_ID"); v != "" {
		config.Job.TaskID = v
	}
	if v := os.Getenv("TQPUMP_METRICS_LISTEN"); v != "" {
		config.Job.MetricsListen = v
	}
	if v := os.Getenv("TQPUMP_MODULE"); v != "" {
		config.Transform.Module = v
	}
	if v := os.Getenv("TQPUMP_SERVER_VERSION"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TQPUMP_SERVER_VERSION: %w", err)
		}
		config.Job.ServerVersion = n
	}
	if v := os.Getenv("TQPUMP_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TQPUMP_BATCH_SIZE: %w", err)
		}
		config.Output.BatchSize = n
	}
	if v := os.Getenv("TQPUMP_TXN_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TQPUMP_TXN_SIZE: %w", err)
		}
		config.Output.TxnSize = n
	}
	return nil
}

// Validate checks that the configuration describes a loadable job
func (c *Config) Validate() error {
	if c.Transform.Module == "" {
		return ErrNoModule
	}
	if len(c.Hosts) == 0 {
		return ErrNoHosts
	}
	if c.Output.ContentType == content.Unknown {
		return fmt.Errorf("%w: content_type must name a loadable category", content.ErrUnknownType)
	}
	if c.Output.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.Output.BatchSize)
	}
	if c.Output.DirectPlacement && len(c.Partitions) == 0 {
		return ErrNoPartitions
	}
	known := make(map[string]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		known[h.Name] = true
	}
	for _, p := range c.Partitions {
		if !known[p.Host] {
			return fmt.Errorf("%w: %s on %s", ErrUnknownHost, p.Partition, p.Host)
		}
	}
	return nil
}

// HostNames returns the host names in file order
func (c *Config) HostNames() []string {
	names := make([]string, len(c.Hosts))
	for i, h := range c.Hosts {
		names[i] = h.Name
	}
	return names
}

// DSNs returns the data source name of every host
func (c *Config) DSNs() map[string]string {
	dsns := make(map[string]string, len(c.Hosts))
	for _, h := range c.Hosts {
		dsns[h.Name] = h.DSN
	}
	return dsns
}
