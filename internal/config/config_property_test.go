//go:build property
// +build property

package config

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/viper"
)

// TestConfigurationProperties tests configuration loading and validation properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	root := t.TempDir()

	// Property: a bare number is always read as milliseconds
	properties.Property("numeric interval is milliseconds", prop.ForAll(
		func(ms int) bool {
			viper.Reset()
			viper.Set("watch", root)
			viper.Set("interval", fmt.Sprint(ms))

			cfg, err := Load()
			return err == nil && cfg.Interval == time.Duration(ms)*time.Millisecond
		},
		gen.IntRange(0, 10000),
	))

	// Property: splitting never yields blanks and keeps every entry in order
	properties.Property("list splitting", prop.ForAll(
		func(items []string) bool {
			out := splitList([]string{strings.Join(items, " , ")})
			if len(out) != len(items) {
				return false
			}
			for i := range items {
				if out[i] != items[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.RegexMatch(`^[a-z0-9:/.]{1,12}$`)),
	))

	// Property: any port that leaves room for every target validates
	properties.Property("port range", prop.ForAll(
		func(port, targets int) bool {
			cfg := &Config{
				ProxyPort:    port,
				Watch:        []string{"."},
				Browser:      DefaultBrowser,
				Open:         "false",
				DumpLibsPath: DefaultDumpLibsPath,
				LogLevel:     "info",
			}
			for i := 0; i < targets; i++ {
				cfg.Targets = append(cfg.Targets, fmt.Sprintf("http://localhost:%d", 4502+i))
			}
			result := Validate(cfg)
			fits := port+targets-1 <= 65535
			return result.HasErrors() != fits
		},
		gen.IntRange(1024, 65535),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}
