// Package config parses and validates ripd's command-line flags.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigError reports a malformed or missing configuration value.
type ConfigError struct {
	Flag   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ripd: invalid -%s: %s", e.Flag, e.Reason)
}

// StaticRoute is one entry supplied via a repeated -route flag: a CIDR
// and an optional metric (default 1), imported into the Route Table at
// startup the way kernel-learned routes are.
type StaticRoute struct {
	Network net.IP
	Mask    net.IPMask
	Metric  int
}

func (r StaticRoute) String() string {
	ones, _ := r.Mask.Size()
	return fmt.Sprintf("%s/%d,%d", r.Network, ones, r.Metric)
}

// stringSliceFlag implements flag.Value for a flag repeated on the command
// line, accumulating raw strings for later parsing.
type stringSliceFlag struct{ values []string }

func (s *stringSliceFlag) String() string { return strings.Join(s.values, ",") }
func (s *stringSliceFlag) Set(v string) error {
	s.values = append(s.values, v)
	return nil
}

// Config holds ripd's fully parsed and validated runtime configuration.
type Config struct {
	RIPPort       int
	AdminPort     int
	Interfaces    []string
	ImportRoutes  bool
	StaticRoutes  []StaticRoute
	LogConfigPath string
	BaseTimer     time.Duration
	MetricsEnable bool
	MetricsAddr   string
	DryRun        bool
	Verbose       bool
}

// LogSettings is the shape of the optional -log-config JSON file.
type LogSettings struct {
	Format string `json:"format"` // "text" or "json"
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
}

// LoadLogSettings reads and validates the -log-config file at path. An
// empty path returns the default settings (text format, info level)
// without touching the filesystem.
func LoadLogSettings(path string) (*LogSettings, error) {
	settings := &LogSettings{Format: "text", Level: "info"}
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Flag: "log-config", Reason: fmt.Sprintf("error reading %q: %v", path, err)}
	}
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, &ConfigError{Flag: "log-config", Reason: fmt.Sprintf("error parsing %q: %v", path, err)}
	}
	switch settings.Format {
	case "text", "json":
	default:
		return nil, &ConfigError{Flag: "log-config", Reason: fmt.Sprintf("format must be 'text' or 'json', got %q", settings.Format)}
	}
	switch settings.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, &ConfigError{Flag: "log-config", Reason: fmt.Sprintf("level must be one of debug/info/warn/error, got %q", settings.Level)}
	}
	return settings, nil
}

// Parse parses args (typically os.Args[1:]) into a validated Config.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("ripd", flag.ContinueOnError)

	ripPort := fs.Int("rip-port", 520, "UDP port RIPv2 datagrams are sent and received on")
	adminPort := fs.Int("admin-port", 1520, "TCP port reserved for the administrative interface (accepted, not served; out of scope per spec)")
	var ifaces stringSliceFlag
	fs.Var(&ifaces, "interface", "IP of a locally assigned interface to activate for RIP; a name is also accepted (repeatable)")
	importRoutes := fs.Bool("import-routes", false, "seed the route table from the kernel's existing routes at startup")
	var routes stringSliceFlag
	fs.Var(&routes, "route", "static route to import as CIDR[,metric] (repeatable)")
	logConfigPath := fs.String("log-config", "", "path to a JSON logging config file ({\"format\":\"text|json\",\"level\":\"debug|info|warn|error\"})")
	baseTimer := fs.Int("base-timer", 30, "base timer T in seconds, driving periodic updates, timeouts and garbage collection")
	metricsEnable := fs.Bool("metrics-enable", false, "enable the prometheus metrics endpoint")
	metricsAddr := fs.String("metrics-addr", "localhost:0", "address to listen on for prometheus metrics")
	dryRun := fs.Bool("dry-run", false, "use an in-memory host adapter instead of mutating the kernel routing table")
	verbose := fs.Bool("v", false, "enable verbose (debug) logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if len(ifaces.values) == 0 {
		return nil, &ConfigError{Flag: "interface", Reason: "at least one -interface is required"}
	}

	staticRoutes := make([]StaticRoute, 0, len(routes.values))
	for _, raw := range routes.values {
		sr, err := parseStaticRoute(raw)
		if err != nil {
			return nil, err
		}
		staticRoutes = append(staticRoutes, sr)
	}

	if *baseTimer <= 0 {
		return nil, &ConfigError{Flag: "base-timer", Reason: "must be positive"}
	}

	return &Config{
		RIPPort:       *ripPort,
		AdminPort:     *adminPort,
		Interfaces:    ifaces.values,
		ImportRoutes:  *importRoutes,
		StaticRoutes:  staticRoutes,
		LogConfigPath: *logConfigPath,
		BaseTimer:     time.Duration(*baseTimer) * time.Second,
		MetricsEnable: *metricsEnable,
		MetricsAddr:   *metricsAddr,
		DryRun:        *dryRun,
		Verbose:       *verbose,
	}, nil
}

func parseStaticRoute(raw string) (StaticRoute, error) {
	parts := strings.SplitN(raw, ",", 2)
	_, ipnet, err := net.ParseCIDR(parts[0])
	if err != nil {
		return StaticRoute{}, &ConfigError{Flag: "route", Reason: fmt.Sprintf("malformed CIDR %q: %v", parts[0], err)}
	}
	metric := 1
	if len(parts) == 2 {
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return StaticRoute{}, &ConfigError{Flag: "route", Reason: fmt.Sprintf("malformed metric %q: %v", parts[1], err)}
		}
		if m < 1 || m > 15 {
			return StaticRoute{}, &ConfigError{Flag: "route", Reason: fmt.Sprintf("metric %d out of range [1,15]", m)}
		}
		metric = m
	}
	return StaticRoute{Network: ipnet.IP.To4(), Mask: ipnet.Mask, Metric: metric}, nil
}
