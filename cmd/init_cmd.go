package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metasync/metasync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through prompts to create a metasync configuration file at
~/.metasync/metasync.yaml. Secrets may be given as ${ENV:NAME},
${VAULT:path#key} or ${AWS_SM:secret-id#key} references.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, err := promptConfig(bufio.NewReader(os.Stdin), out)
		if err != nil {
			return err
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}

		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Fprintf(out, "Config written to %s\n", cfgPath)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Next steps:")
		fmt.Fprintln(out, "  metasync source ensure      Register the default data source")
		fmt.Fprintln(out, "  metasync schema list        Check the connection")
		fmt.Fprintln(out, "  metasync apply app.yaml     Converge a manifest")
		return nil
	},
}

func promptConfig(reader *bufio.Reader, out io.Writer) (*config.Config, error) {
	fmt.Fprintln(out, titleStyle.Render("metasync configuration setup"))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Engine")
	fmt.Fprintln(out, "------")
	endpoint := prompt(reader, out, "Endpoint URL", "http://localhost:8080")
	secret := prompt(reader, out, "Admin secret", "${ENV:HASURA_GRAPHQL_ADMIN_SECRET}")
	retriesStr := prompt(reader, out, "Retries", strconv.Itoa(config.DefaultRetries))
	retries, err := strconv.Atoi(retriesStr)
	if err != nil {
		return nil, fmt.Errorf("invalid retries: %s", retriesStr)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Default Source")
	fmt.Fprintln(out, "--------------")
	name := prompt(reader, out, "Name", "default")
	dbURL := prompt(reader, out, "Database URL (leave empty to use DATABASE_URL)", "")
	fmt.Fprintln(out)

	return &config.Config{
		Version: config.CurrentVersion,
		Endpoint: config.EndpointConfig{
			URL:         endpoint,
			AdminSecret: secret,
			Retries:     &retries,
		},
		Source: config.SourceConfig{
			Name:        name,
			DatabaseURL: dbURL,
		},
	}, nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func prompt(reader *bufio.Reader, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
