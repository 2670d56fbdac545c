package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/bridgeq/internal/vault"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Assemble vault documents offline",
	}
	cmd.AddCommand(newVaultBuildCmd())
	return cmd
}

func newVaultBuildCmd() *cobra.Command {
	var file, apiURL, functionsFile string
	var validate, digestOnly bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a vault from a task context JSON document",
		Long: `Reads a task context (the POST /tasks body) from --file or stdin and
prints the assembled vault document. Nothing is sent to the remote API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var tc vault.TaskContext
			if err := json.NewDecoder(in).Decode(&tc); err != nil {
				return fmt.Errorf("decode task context: %w", err)
			}

			registry, err := vault.LoadRegistryFile(functionsFile)
			if err != nil {
				return err
			}
			b := vault.NewBuilder(vault.Config{
				APIURL:              func() string { return apiURL },
				Registry:            registry,
				ValidateParams:      validate,
				ValidateConnections: validate,
			})

			doc, err := b.Build(tc)
			if err != nil {
				var verr *vault.ValidationError
				if errors.As(err, &verr) {
					return &exitError{code: 3, err: err}
				}
				return err
			}

			out := cmd.OutOrStdout()
			if digestOnly {
				fmt.Fprintln(out, vault.Digest(doc))
				return nil
			}
			_, err = io.WriteString(out, doc+"\n")
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Task context JSON file (default: stdin)")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "Value for context.api_url")
	cmd.Flags().StringVar(&functionsFile, "functions", "", "Function registry YAML (default: built-in)")
	cmd.Flags().BoolVar(&validate, "validate", false, "Check params and connection fields")
	cmd.Flags().BoolVar(&digestOnly, "digest", false, "Print only the vault digest")
	return cmd
}

func newFunctionsCmd() *cobra.Command {
	var functionsFile string
	var jsonOut, all bool
	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List bridge functions and the vault sections they need",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := vault.LoadRegistryFile(functionsFile)
			if err != nil {
				return err
			}
			var fns []vault.Function
			for _, fn := range registry.Functions() {
				if fn.Public || all {
					fns = append(fns, fn)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(fns, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			for _, fn := range fns {
				fmt.Fprintf(out, "%-30s %-12s %s\n", fn.Name, fn.Category, requirementList(fn.Requirements))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&functionsFile, "functions", "", "Function registry YAML (default: built-in)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "Include internal functions")
	return cmd
}

func requirementList(r vault.Requirements) string {
	var parts []string
	for _, req := range []struct {
		name string
		on   bool
	}{
		{"machine", r.Machine},
		{"team", r.Team},
		{"organization", r.Organization},
		{"repository", r.Repository},
		{"storage", r.Storage},
		{"plugin", r.Plugin},
		{"bridge", r.Bridge},
	} {
		if req.on {
			parts = append(parts, req.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
