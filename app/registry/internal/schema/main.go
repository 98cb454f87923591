// Command schema writes the JSON schema of the registry file, or checks that the committed one is current.
package main

import (
	"bytes"
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/gatekeeper/app/registry"
)

type options struct {
	Check bool `long:"check" description:"fail if the schema file differs from the generated one"`
	Args  struct {
		Output string `positional-arg-name:"output" description:"schema file, schema.json if not set"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	if opts.Args.Output == "" {
		opts.Args.Output = "schema.json"
	}
	if err := run(opts); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

func run(opts options) error {
	data, err := registry.GenerateSchema()
	if err != nil {
		return err
	}

	if opts.Check {
		current, err := os.ReadFile(opts.Args.Output)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", opts.Args.Output, err)
		}
		if !bytes.Equal(current, data) {
			return fmt.Errorf("%s is stale, run go generate ./app/registry", opts.Args.Output)
		}
		return nil
	}

	if err := os.WriteFile(opts.Args.Output, data, 0o644); err != nil { //nolint:gosec // schema file is not sensitive
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	log.Printf("[INFO] schema written to %s", opts.Args.Output)
	return nil
}
