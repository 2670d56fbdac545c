package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/bridgeq/internal/config"
	"github.com/mattjoyce/bridgeq/internal/doctor"
	"github.com/mattjoyce/bridgeq/internal/vault"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate, lock and read configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(), newConfigLockCmd(), newConfigGetCmd(), newConfigShowCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var strict, jsonOut bool
	var format string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load configuration and report problems",
		Long: `Exit status is 0 when valid, 1 when invalid and 2 when --strict is set
and warnings were found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOut {
				format = "json"
			}
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("config load error: %w", err)
			}
			registry, err := vault.LoadRegistryFile(cfg.Vault.FunctionsFile)
			if err != nil {
				return err
			}

			result := doctor.New(cfg, registry).Validate()
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				s, err := doctor.FormatJSON(result)
				if err != nil {
					return fmt.Errorf("JSON format error: %w", err)
				}
				fmt.Fprintln(out, s)
			default:
				fmt.Fprint(out, doctor.FormatHuman(result))
			}

			if !result.Valid {
				return &exitError{code: 1}
			}
			if strict && len(result.Warnings) > 0 {
				return &exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	cmd.Flags().StringVar(&format, "format", "human", "Output format (human, json)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON")
	return cmd
}

func newConfigLockCmd() *cobra.Command {
	var dryRun, verbose bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Record BLAKE3 checksums for every loaded config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				discovered, err := config.DiscoverConfigPath()
				if err != nil {
					return err
				}
				path = discovered
			}
			files, err := config.Files(path)
			if err != nil {
				return err
			}
			reports, err := config.Lock(files, dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range reports {
				verb := "Wrote"
				if !r.Written {
					verb = "Would write"
				}
				fmt.Fprintf(out, "%s %s (%d file(s))\n", verb, r.ChecksumPath, len(r.Files))
				if verbose {
					for _, f := range r.Files {
						fmt.Fprintf(out, "  %s  %s\n", f.Hash, f.Filename)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute hashes without writing .checksums")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every hashed file")
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Print one configuration value by dotted path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			val, err := cfg.GetPath(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(val, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprintf(out, "%v\n", val)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in structured JSON format")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
