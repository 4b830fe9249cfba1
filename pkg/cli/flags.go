package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func outputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func jsonOutput(cmd *cobra.Command) bool {
	return outputFormat(cmd) == formatJSON
}

func checkOutputFormat(v string) error {
	switch v {
	case "", formatTable, formatJSON:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (want table or json)", v)
}

// checkHost rejects hosts the client cannot prefix API routes onto.
func checkHost(host string) error {
	u, err := url.Parse(strings.TrimSpace(host))
	switch {
	case err != nil:
		return fmt.Errorf("invalid host %q: %w", host, err)
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("invalid host %q: scheme must be http or https", host)
	case u.Host == "":
		return fmt.Errorf("invalid host %q: missing host name", host)
	case strings.Trim(u.Path, "/") != "":
		return fmt.Errorf("invalid host %q: must not include a path", host)
	case u.RawQuery != "" || u.Fragment != "":
		return fmt.Errorf("invalid host %q: must not include a query or fragment", host)
	}
	return nil
}

// setIfChanged copies src into dst when the named flag was given on the
// command line, so unset flags never clear stored values.
func setIfChanged(fs *pflag.FlagSet, name string, dst *string, src string) {
	if fs.Changed(name) {
		*dst = src
	}
}
