package main

import (
	"os"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
)

// Config holds zkshell's startup options, loaded from flags with the
// teacher's env-file-as-fallback convention (cmd/atlas reads an
// optional env_file argument over os.Environ()).
type Config struct {
	Servers     string
	SessionTO   int
	Chroot      string
	LogLevel    zerolog.Level
	LogPretty   bool
	Record      string
	AuditLog    string
	GeoDB       string
	MetricsAddr string
}

func readEnvFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var out []string
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}
