package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/go-errors/errors"
	"go.uber.org/zap/zapcore"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

// TriggerActions lists the actions a trigger may name.
var TriggerActions = []string{"notify", "bell", "highlight", "save_session"}

// Validate checks the whole config. Every error wraps schema.ErrConfig.
func (c *Config) Validate() error {
	if c.DefaultShell == "" {
		return errors.Errorf("default_shell is empty: %w", schema.ErrConfig)
	}
	if c.SessionFile == "" {
		return errors.Errorf("session_file is empty: %w", schema.ErrConfig)
	}
	if err := ValidateKeys(&c.Keys); err != nil {
		return errors.Errorf("%v: %w", err, schema.ErrConfig)
	}
	if err := validateTheme(&c.Theme); err != nil {
		return errors.Errorf("%v: %w", err, schema.ErrConfig)
	}

	names := make(map[string]bool, len(c.Commands))
	for _, cmd := range c.Commands {
		if cmd.Name == "" {
			return errors.Errorf("command %q has no name: %w", cmd.Run, schema.ErrConfig)
		}
		if names[cmd.Name] {
			return errors.Errorf("duplicate command %q: %w", cmd.Name, schema.ErrConfig)
		}
		names[cmd.Name] = true
		if _, err := cmd.PtyConfig(0, 0); err != nil {
			return err
		}
	}

	if _, err := c.CompileTriggers(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Errorf("log level %q: %w", c.Log.Level, schema.ErrConfig)
	}
	return nil
}

// CompiledTrigger is a trigger with its pattern compiled.
type CompiledTrigger struct {
	Trigger
	Re *regexp.Regexp
}

// CompileTriggers compiles every trigger pattern.
func (c *Config) CompileTriggers() ([]CompiledTrigger, error) {
	out := make([]CompiledTrigger, 0, len(c.Triggers))
	for i, tr := range c.Triggers {
		if tr.Pattern == "" {
			return nil, errors.Errorf("trigger %d: empty pattern: %w", i, schema.ErrConfig)
		}
		re, err := regexp.Compile(tr.Pattern)
		if err != nil {
			return nil, errors.Errorf("trigger %d: %v: %w", i, err, schema.ErrConfig)
		}
		if !slices.Contains(TriggerActions, tr.Action) {
			return nil, errors.Errorf("trigger %d: unknown action %q: %w", i, tr.Action, schema.ErrConfig)
		}
		out = append(out, CompiledTrigger{Trigger: tr, Re: re})
	}
	return out, nil
}

// ValidateKeys checks for duplicate keybindings and invalid key strings.
func ValidateKeys(keys *KeyBindings) error {
	// Build a map of key -> action names for duplicate detection
	keyMap := make(map[string][]string)
	err := eachBinding(keys, func(_ Action, field, value string) error {
		key, err := ParseKey(value)
		if err != nil {
			return fmt.Errorf("invalid key for %s: %w", field, err)
		}
		// Aliases like esc/escape collapse to the same sequence.
		seq := string(key.Seq)
		keyMap[seq] = append(keyMap[seq], field)
		return nil
	})
	if err != nil {
		return err
	}

	var duplicates []string
	for seq, actions := range keyMap {
		if len(actions) > 1 {
			duplicates = append(duplicates, fmt.Sprintf("key %q is used by: %s", seq, strings.Join(actions, ", ")))
		}
	}
	if len(duplicates) > 0 {
		slices.Sort(duplicates)
		return fmt.Errorf("duplicate keybindings found:\n  %s", strings.Join(duplicates, "\n  "))
	}
	return nil
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ValidateColor checks if a color is a named ANSI color or a #rgb/#rrggbb value.
func ValidateColor(color string) bool {
	validColors := map[string]bool{
		"default": true,
		"black":   true,
		"red":     true,
		"green":   true,
		"yellow":  true,
		"blue":    true,
		"magenta": true,
		"cyan":    true,
		"white":   true,
	}
	return validColors[strings.ToLower(color)] || hexColor.MatchString(color)
}

func validateTheme(t *Theme) error {
	colors := map[string]string{
		"background": t.Colors.Background,
		"foreground": t.Colors.Foreground,
		"cursor":     t.Colors.Cursor,
		"selection":  t.Colors.Selection,
	}
	for name, color := range colors {
		if color != "" && !ValidateColor(color) {
			return fmt.Errorf("theme color %s: invalid value %q", name, color)
		}
	}
	if len(t.Colors.Palette) > 16 {
		return fmt.Errorf("theme palette has %d colors, at most 16 allowed", len(t.Colors.Palette))
	}
	for i, color := range t.Colors.Palette {
		if !ValidateColor(color) {
			return fmt.Errorf("theme palette[%d]: invalid value %q", i, color)
		}
	}
	if t.Font.Size < 0 {
		return fmt.Errorf("font size %v is negative", t.Font.Size)
	}
	return nil
}
