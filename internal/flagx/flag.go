// Package flagx contains helpers for reading a handful of bootstrap flags
// (config file, env file) before the main flag set is parsed.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigFileEnv names the environment variable consulted when no -c/-config
// flag is given.
const ConfigFileEnv = "REPOSTORE_CONFIG"

// FilterArgs keeps only the flags named in allowed, together with their
// values, so that a dedicated FlagSet can parse them without tripping over
// flags it does not define. Names are compared without regard to a leading
// "--", so "-c" also admits "--c". A value is taken from the next argument
// unless it starts with '-'. Scanning stops at the "--" terminator.
func FilterArgs(args []string, allowed []string) []string {
	names := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		names[flagName(f)] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, inline := strings.Cut(arg, "=")
		if !names[flagName(name)] {
			continue
		}
		out = append(out, arg)
		if !inline && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

func flagName(s string) string {
	return strings.TrimLeft(s, "-")
}

// ConfigFile extracts the JSON config path from -c / -config in args,
// falling back to $REPOSTORE_CONFIG. It returns "" if neither is set.
func ConfigFile(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	if config == "" {
		config = os.Getenv(ConfigFileEnv)
	}
	return config
}

// EnvFile extracts the dotenv file path from -env in args.
func EnvFile(args []string) string {
	var env string

	fs := flag.NewFlagSet("env", flag.ContinueOnError)
	fs.StringVar(&env, "env", "", "Path to .env file")
	_ = fs.Parse(FilterArgs(args, []string{"-env"}))

	return env
}
