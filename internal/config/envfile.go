package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
)

// lookupWithEnvFile layers a dotenv file beneath base: keys present in base
// win, keys only present in the file are served from it.
func lookupWithEnvFile(base func(string) (string, bool), path string) (func(string) (string, bool), error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s %q: %w", envVarEnvFile, path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := base(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

// envFileFromArgs finds --env-file before the full flag set is parsed, since
// the file feeds the defaults of every other flag.
func envFileFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if value, ok := strings.CutPrefix(name, flagEnvFile+"="); ok {
			return value
		}
		if name == flagEnvFile && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
