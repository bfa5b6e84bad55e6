// Package config handles application configuration.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-errors/errors"
	"github.com/google/shlex"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

// EnvPrefix prefixes every environment override, e.g. TABMUX_SHELL.
const EnvPrefix = "TABMUX"

// Config holds application configuration.
type Config struct {
	// DataDir is the directory holding config.yaml.
	DataDir string `yaml:"-"`

	// SessionFile is where the workspace is saved.
	SessionFile string `yaml:"session_file"`

	// DefaultShell is the command new tabs and panes run.
	DefaultShell string `yaml:"default_shell"`

	// SSHCommand is the ssh client used for remote sessions.
	SSHCommand string `yaml:"ssh_command"`

	// CloseOnExit removes a pane once its process exits.
	CloseOnExit bool `yaml:"-"`

	// Ligatures and CopyOnSelect are rendering hints passed through to the
	// front end.
	Ligatures    bool `yaml:"-"`
	CopyOnSelect bool `yaml:"-"`

	Keys     KeyBindings `yaml:"keys"`
	Theme    Theme       `yaml:"theme"`
	Commands []Command   `yaml:"commands"`
	Triggers []Trigger   `yaml:"triggers"`
	Log      LogConfig   `yaml:"log"`
}

// KeyBindings holds all configurable keybindings.
type KeyBindings struct {
	NewTab          string `yaml:"new_tab"`
	CloseTab        string `yaml:"close_tab"`
	NextTab         string `yaml:"next_tab"`
	PrevTab         string `yaml:"prev_tab"`
	SplitHorizontal string `yaml:"split_horizontal"`
	SplitVertical   string `yaml:"split_vertical"`
	ClosePane       string `yaml:"close_pane"`
	FocusNext       string `yaml:"focus_next"`
	FocusPrev       string `yaml:"focus_prev"`
	SaveSession     string `yaml:"save_session"`
	Copy            string `yaml:"copy"`
	Paste           string `yaml:"paste"`
	Quit            string `yaml:"quit"`
}

// Theme holds theme configuration.
type Theme struct {
	Colors ThemeColors `yaml:"colors"`
	Font   Font        `yaml:"font"`
}

// ThemeColors holds color configuration.
type ThemeColors struct {
	Background string   `yaml:"background"`
	Foreground string   `yaml:"foreground"`
	Cursor     string   `yaml:"cursor"`
	Selection  string   `yaml:"selection"`
	Palette    []string `yaml:"palette"`
}

// Font holds font configuration.
type Font struct {
	Family string  `yaml:"family"`
	Size   float64 `yaml:"size"`
}

// Command is a named launch preset, e.g. {name: logs, run: "tail -f app.log"}.
type Command struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`
	Cwd  string `yaml:"cwd"`
}

// PtyConfig splits Run into argv the way a shell would and returns the spawn
// config for it.
func (c Command) PtyConfig(rows, cols uint16) (schema.PtyConfig, error) {
	argv, err := shlex.Split(c.Run)
	if err != nil {
		return schema.PtyConfig{}, errors.Errorf("command %q: %v: %w", c.Name, err, schema.ErrConfig)
	}
	if len(argv) == 0 {
		return schema.PtyConfig{}, errors.Errorf("command %q: empty run: %w", c.Name, schema.ErrConfig)
	}
	return schema.PtyConfig{
		Command: argv[0],
		Args:    argv[1:],
		Cwd:     expandHome(c.Cwd),
		Rows:    rows,
		Cols:    cols,
	}, nil
}

// Trigger fires Action when a pane's output matches Pattern.
type Trigger struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// fileConfig is the on-disk shape. Flags are pointers so an explicit false in
// the file can override a true default.
type fileConfig struct {
	Config       `yaml:",inline"`
	CloseOnExit  *bool `yaml:"close_on_exit"`
	Ligatures    *bool `yaml:"ligatures"`
	CopyOnSelect *bool `yaml:"copy_on_select"`
}

// envOverrides are read from TABMUX_* variables and win over the file.
// Names come from split_words rather than envconfig tags, which would also
// fall back to the unprefixed variable (SHELL, LOG_LEVEL).
type envOverrides struct {
	Config      string
	DataDir     string `split_words:"true"`
	SessionFile string `split_words:"true"`
	Shell       string
	SSHCommand  string `split_words:"true"`
	CloseOnExit string `split_words:"true"`
	LogLevel    string `split_words:"true"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		DataDir:      defaultDataDir(),
		SessionFile:  "./session.json",
		DefaultShell: getDefaultShell(),
		SSHCommand:   "ssh",
		CloseOnExit:  true,
		Ligatures:    true,
		CopyOnSelect: false,
		Keys:         DefaultKeyBindings(),
		Theme:        DefaultTheme(),
		Log:          LogConfig{Level: "info"},
	}
}

// DefaultKeyBindings returns the default keybindings.
func DefaultKeyBindings() KeyBindings {
	return KeyBindings{
		NewTab:          "ctrl+t",
		CloseTab:        "ctrl+w",
		NextTab:         "ctrl+n",
		PrevTab:         "ctrl+p",
		SplitHorizontal: "alt+l",
		SplitVertical:   "alt+j",
		ClosePane:       "alt+x",
		FocusNext:       "alt+o",
		FocusPrev:       "alt+i",
		SaveSession:     "alt+s",
		Copy:            "alt+c",
		Paste:           "alt+v",
		Quit:            "ctrl+q",
	}
}

// DefaultTheme returns the default theme configuration.
func DefaultTheme() Theme {
	return Theme{
		Colors: ThemeColors{
			Background: "#1e1e2e",
			Foreground: "#cdd6f4",
			Cursor:     "#f5e0dc",
			Selection:  "#585b70",
		},
		Font: Font{Family: "monospace", Size: 13},
	}
}

// Load reads the config file named by TABMUX_CONFIG, or config.yaml in the
// data directory, falling back to defaults when it does not exist.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// Path returns the config file Load reads.
func Path() (string, error) {
	env, err := readEnv()
	if err != nil {
		return "", err
	}
	if env.Config != "" {
		return env.Config, nil
	}
	dataDir := defaultDataDir()
	if env.DataDir != "" {
		dataDir = env.DataDir
	}
	return filepath.Join(dataDir, "config.yaml"), nil
}

// LoadFile reads the config at path, applies environment overrides and
// validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Errorf("read %s: %v: %w", path, err, schema.ErrConfig)
	}
	if err == nil {
		var fileCfg fileConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, errors.Errorf("parse %s: %v: %w", path, err, schema.ErrConfig)
		}
		mergeConfig(cfg, &fileCfg)
	}

	env, err := readEnv()
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnv() (envOverrides, error) {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return env, errors.Errorf("environment: %v: %w", err, schema.ErrConfig)
	}
	return env, nil
}

func applyEnv(cfg *Config, env envOverrides) error {
	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}
	if env.SessionFile != "" {
		cfg.SessionFile = env.SessionFile
	}
	if env.Shell != "" {
		cfg.DefaultShell = env.Shell
	}
	if env.SSHCommand != "" {
		cfg.SSHCommand = env.SSHCommand
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.CloseOnExit != "" {
		v, err := strconv.ParseBool(env.CloseOnExit)
		if err != nil {
			return errors.Errorf("%s_CLOSE_ON_EXIT: %v: %w", EnvPrefix, err, schema.ErrConfig)
		}
		cfg.CloseOnExit = v
	}
	return nil
}

// mergeConfig merges file configuration into the default configuration.
// Only non-zero values from file are applied.
func mergeConfig(dst *Config, src *fileConfig) {
	if src.SessionFile != "" {
		dst.SessionFile = expandHome(src.SessionFile)
	}
	if src.DefaultShell != "" {
		dst.DefaultShell = src.DefaultShell
	}
	if src.SSHCommand != "" {
		dst.SSHCommand = src.SSHCommand
	}
	if src.CloseOnExit != nil {
		dst.CloseOnExit = *src.CloseOnExit
	}
	if src.Ligatures != nil {
		dst.Ligatures = *src.Ligatures
	}
	if src.CopyOnSelect != nil {
		dst.CopyOnSelect = *src.CopyOnSelect
	}
	if src.Commands != nil {
		dst.Commands = src.Commands
	}
	if src.Triggers != nil {
		dst.Triggers = src.Triggers
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	dst.Log.Development = dst.Log.Development || src.Log.Development

	mergeKeyBindings(&dst.Keys, &src.Keys)
	mergeTheme(&dst.Theme, &src.Theme)
}

// mergeKeyBindings merges keybindings from src into dst.
func mergeKeyBindings(dst, src *KeyBindings) {
	if src.NewTab != "" {
		dst.NewTab = src.NewTab
	}
	if src.CloseTab != "" {
		dst.CloseTab = src.CloseTab
	}
	if src.NextTab != "" {
		dst.NextTab = src.NextTab
	}
	if src.PrevTab != "" {
		dst.PrevTab = src.PrevTab
	}
	if src.SplitHorizontal != "" {
		dst.SplitHorizontal = src.SplitHorizontal
	}
	if src.SplitVertical != "" {
		dst.SplitVertical = src.SplitVertical
	}
	if src.ClosePane != "" {
		dst.ClosePane = src.ClosePane
	}
	if src.FocusNext != "" {
		dst.FocusNext = src.FocusNext
	}
	if src.FocusPrev != "" {
		dst.FocusPrev = src.FocusPrev
	}
	if src.SaveSession != "" {
		dst.SaveSession = src.SaveSession
	}
	if src.Copy != "" {
		dst.Copy = src.Copy
	}
	if src.Paste != "" {
		dst.Paste = src.Paste
	}
	if src.Quit != "" {
		dst.Quit = src.Quit
	}
}

// mergeTheme merges theme configuration from src into dst.
func mergeTheme(dst, src *Theme) {
	if src.Colors.Background != "" {
		dst.Colors.Background = src.Colors.Background
	}
	if src.Colors.Foreground != "" {
		dst.Colors.Foreground = src.Colors.Foreground
	}
	if src.Colors.Cursor != "" {
		dst.Colors.Cursor = src.Colors.Cursor
	}
	if src.Colors.Selection != "" {
		dst.Colors.Selection = src.Colors.Selection
	}
	if src.Colors.Palette != nil {
		dst.Colors.Palette = src.Colors.Palette
	}
	if src.Font.Family != "" {
		dst.Font.Family = src.Font.Family
	}
	if src.Font.Size != 0 {
		dst.Font.Size = src.Font.Size
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Theme.Colors.Palette = append([]string(nil), c.Theme.Colors.Palette...)
	out.Commands = append([]Command(nil), c.Commands...)
	out.Triggers = append([]Trigger(nil), c.Triggers...)
	return &out
}

// ShellConfig returns the spawn config for the default shell.
func (c *Config) ShellConfig(rows, cols uint16) schema.PtyConfig {
	return schema.PtyConfig{Command: c.DefaultShell, Args: []string{}, Rows: rows, Cols: cols}
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tabmux")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tabmux"
	}
	return filepath.Join(home, ".config", "tabmux")
}

// getDefaultShell returns the user's default shell.
func getDefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

func expandHome(path string) string {
	if rest, ok := cutHome(path); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

func cutHome(path string) (string, bool) {
	if path == "~" {
		return "", true
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return path[2:], true
	}
	return "", false
}

// ConfigFile returns the path to the config file.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
