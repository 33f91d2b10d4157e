package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/aemfed/internal/config"
)

// serveBindings maps serve flags to configuration keys.
var serveBindings = map[string]string{
	"targets":      "targets",
	"proxy-port":   "proxy_port",
	"watch":        "watch",
	"exclude":      "exclude",
	"interval":     "interval",
	"open":         "open",
	"browser":      "browser",
	"dumplibs":     "dumplibs_path",
	"tracer-delay": "tracer.delay",
	"tracer-rules": "tracer.profiles_file",
}

func addServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceP("targets", "t", nil, "target servers, comma separated (default "+config.DefaultTarget+")")
	flags.IntP("proxy-port", "p", config.DefaultProxyPort, "port of the first proxy; target i uses proxy-port+i")
	flags.StringSliceP("watch", "w", nil, "folders to watch, comma separated (default current folder)")
	flags.StringSliceP("exclude", "e", nil, "glob patterns of paths to ignore, comma separated")
	flags.StringP("interval", "i", "", "wait after the last change before pushing; milliseconds or a duration (default 100)")
	flags.StringP("open", "o", config.DefaultOpen, `page opened after start-up: a URL, a path on the proxy, "true" or "false"`)
	flags.StringP("browser", "b", config.DefaultBrowser, `browser to open the page in, e.g. "google-chrome" on Linux or "chrome" on Windows`)
	flags.String("dumplibs", config.DefaultDumpLibsPath, "path of the client library overview on the servers")
	flags.String("tracer-delay", "", "wait before fetching trace logs of a request (default 100ms)")
	flags.String("tracer-rules", "", "YAML file replacing the built-in tracer profiles")
	flags.Bool("no-update-check", false, "skip checking for a newer release")

	bindFlags(flags, serveBindings)

	AddFlagValidation(cmd, "proxy-port", ValidatePort)
}

// bindFlags binds flags to viper configuration keys. Only flags set on the
// command line override the file and the environment.
func bindFlags(flags *pflag.FlagSet, bindings map[string]string) {
	for flagName, configKey := range bindings {
		if flag := flags.Lookup(flagName); flag != nil {
			_ = viper.BindPFlag(configKey, flag)
		}
	}
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort is a flag validator for port numbers.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// ValidateFormat is a flag validator for output formats.
func ValidateFormat(format string, allowed []string) error {
	for _, f := range allowed {
		if strings.EqualFold(format, f) {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %s, must be one of: %s", format, strings.Join(allowed, ", "))
}
