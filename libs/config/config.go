package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load reads an optional .env file and then decodes environment variables
// into dst using envconfig struct tags. Variables already present in the
// environment win over the file.
func Load(prefix string, dst any, dotenvFiles ...string) error {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := envconfig.Process(prefix, dst); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Port is a TCP port number read from the environment.
type Port string

func (p *Port) Decode(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("must be a valid TCP port (got %q)", value)
	}
	*p = Port(strconv.Itoa(n))
	return nil
}

func (p Port) Addr() string {
	return ":" + string(p)
}

// CSV splits a comma separated value, dropping blanks.
type CSV []string

func (c *CSV) Decode(value string) error {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	*c = out
	return nil
}
