// Package config loads the cursor compositor settings using Viper
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/drmcursor/internal/logger"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultPath is the system configuration file.
const DefaultPath = "/etc/drm-cursor.conf"

// MaxSurfaces caps the GPU surface ring.
const MaxSurfaces = 64

// Backends
const (
	BackendEGL = "egl"
	BackendCPU = "cpu"
)

// Config is the immutable configuration shared by every output.
type Config struct {
	Debug   bool   `mapstructure:"debug"`
	LogFile string `mapstructure:"log-file"`
	// Hide makes SetCursor and MoveCursor succeed without showing anything.
	Hide         bool `mapstructure:"hide"`
	AllowOverlay bool `mapstructure:"allow-overlay"`
	PreferAFBC   bool `mapstructure:"prefer-afbc"`
	// PreferPlane applies to every CRTC without a PreferPlanes entry.
	PreferPlane uint32 `mapstructure:"prefer-plane"`
	// PreferPlanes is indexed by CRTC pipe; 0 entries fall back to PreferPlane.
	PreferPlanes  []uint32 `mapstructure:"prefer-planes"`
	CrtcBlocklist []uint32 `mapstructure:"crtc-blocklist"`
	NumSurfaces   int      `mapstructure:"num-surfaces"`
	MaxFPS        int      `mapstructure:"max-fps"`
	Atomic        bool     `mapstructure:"atomic"`
	Backend       string   `mapstructure:"backend"`
	Device        string   `mapstructure:"device"`
}

// DefaultConfig provides the built-in defaults
var DefaultConfig = Config{
	LogFile:       logger.DefaultLogFile,
	PreferPlanes:  []uint32{},
	CrtcBlocklist: []uint32{},
	NumSurfaces:   8,
	MaxFPS:        60,
	Atomic:        true,
	Backend:       BackendEGL,
	Device:        "/dev/dri/card0",
}

// Environment variables that take precedence over the file.
var envOverrides = map[string]string{
	"prefer-plane":  "DRM_CURSOR_PREFER_PLANE",
	"prefer-planes": "DRM_CURSOR_PREFER_PLANES",
	"log-file":      "DRM_CURSOR_LOG_FILE",
}

// Load reads path into a fresh Viper instance. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom layers defaults, the file at path and environment overrides on
// v. Values already set on v, for example bound command-line flags, win.
func LoadFrom(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	for key, env := range envOverrides {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(values); err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.DecodeHookFuncType(idListHook))); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if os.Getenv("DRM_DEBUG") != "" || logger.DebugFlagSet(logger.DebugFlagFile) {
		cfg.Debug = true
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", DefaultConfig.Debug)
	v.SetDefault("log-file", DefaultConfig.LogFile)
	v.SetDefault("hide", DefaultConfig.Hide)
	v.SetDefault("allow-overlay", DefaultConfig.AllowOverlay)
	v.SetDefault("prefer-afbc", DefaultConfig.PreferAFBC)
	v.SetDefault("prefer-plane", DefaultConfig.PreferPlane)
	v.SetDefault("prefer-planes", "")
	v.SetDefault("crtc-blocklist", "")
	v.SetDefault("num-surfaces", DefaultConfig.NumSurfaces)
	v.SetDefault("max-fps", DefaultConfig.MaxFPS)
	v.SetDefault("atomic", DefaultConfig.Atomic)
	v.SetDefault("backend", DefaultConfig.Backend)
	v.SetDefault("device", DefaultConfig.Device)
}

func (c *Config) normalize() error {
	if c.NumSurfaces < 1 {
		c.NumSurfaces = 1
	}
	if c.NumSurfaces > MaxSurfaces {
		c.NumSurfaces = MaxSurfaces
	}
	if c.MaxFPS <= 0 {
		c.MaxFPS = DefaultConfig.MaxFPS
	}
	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case BackendEGL, BackendCPU:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendEGL, BackendCPU)
	}
	return nil
}

// MinInterval is the minimum time between two updates of one output.
func (c *Config) MinInterval() time.Duration {
	fps := c.MaxFPS
	if fps <= 0 {
		fps = DefaultConfig.MaxFPS
	}
	ms := 1000 / fps
	if ms > 0 {
		ms--
	}
	return time.Duration(ms) * time.Millisecond
}

// PreferredPlane returns the preferred plane for the CRTC at pipe, or 0.
func (c *Config) PreferredPlane(pipe int) uint32 {
	if pipe >= 0 && pipe < len(c.PreferPlanes) && c.PreferPlanes[pipe] != 0 {
		return c.PreferPlanes[pipe]
	}
	return c.PreferPlane
}

// Blocked reports whether crtcID is administratively excluded.
func (c *Config) Blocked(crtcID uint32) bool {
	for _, id := range c.CrtcBlocklist {
		if id == crtcID {
			return true
		}
	}
	return false
}

// ParseIDList parses a comma separated list of object ids. Empty entries
// are kept as 0 so positions are preserved.
func ParseIDList(s string) ([]uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []uint32{}, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uint32, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", p, err)
		}
		ids[i] = uint32(n)
	}
	return ids, nil
}

var idListType = reflect.TypeOf([]uint32(nil))

func idListHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != idListType {
		return data, nil
	}
	return ParseIDList(data.(string))
}

// readFile parses key=value lines. '#' starts a comment.
func readFile(path string) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	defer f.Close()

	values, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, nil
}

// Parse reads key=value lines into a map.
func Parse(r io.Reader) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key=value", line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", line)
		}
		values[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// Save writes c to path in the key=value format.
func Save(c *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if os.IsPermission(err) && strings.HasPrefix(path, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, "# drm-cursor configuration\n"); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	for _, kv := range c.Pairs() {
		if _, err := fmt.Fprintf(f, "%s=%s\n", kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}
	return nil
}

// Pairs returns the configuration as sorted key/value strings.
func (c *Config) Pairs() [][2]string {
	m := map[string]string{
		"debug":          boolString(c.Debug),
		"log-file":       c.LogFile,
		"hide":           boolString(c.Hide),
		"allow-overlay":  boolString(c.AllowOverlay),
		"prefer-afbc":    boolString(c.PreferAFBC),
		"prefer-plane":   strconv.FormatUint(uint64(c.PreferPlane), 10),
		"prefer-planes":  idListString(c.PreferPlanes),
		"crtc-blocklist": idListString(c.CrtcBlocklist),
		"num-surfaces":   strconv.Itoa(c.NumSurfaces),
		"max-fps":        strconv.Itoa(c.MaxFPS),
		"atomic":         boolString(c.Atomic),
		"backend":        c.Backend,
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{k, m[k]}
	}
	return pairs
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func idListString(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
