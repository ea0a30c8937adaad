package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Samijain03/Collab-X/internal/config"
	"github.com/Samijain03/Collab-X/internal/export"
	"github.com/Samijain03/Collab-X/internal/store"
)

func newExportCmd(a *app) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "export [workspace]",
		Short: "Write every file of a workspace to the export backend",
		Long: `Read a workspace from the hub database and write its files under their
full paths, plus a manifest.yaml, to export.local_path or export.s3_bucket.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := a.cfg.Workspace
			if len(args) == 1 {
				key = args[0]
			}
			if key == "" {
				return errors.New("workspace: required")
			}
			if prefix == "" {
				prefix = key
			}
			if err := a.cfg.ValidateExport(); err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := store.Open(ctx, a.cfg.DatabaseDriver, a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer st.Close()

			nodes, err := st.List(ctx, key)
			if err != nil {
				return fmt.Errorf("list %s: %w", key, err)
			}
			if len(nodes) == 0 {
				return fmt.Errorf("workspace %q is empty", key)
			}

			backend, err := openBackend(ctx, a.cfg.Export)
			if err != nil {
				return err
			}
			defer backend.Close()

			m, err := export.Export(ctx, backend, key, prefix, nodes)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Exported %d files and %d folders of %s to %s:%s",
				len(m.Files), m.Folders, key, backend.Type(), prefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "key prefix; defaults to the workspace key")
	return cmd
}

func openBackend(ctx context.Context, cfg config.ExportConfig) (export.Backend, error) {
	if cfg.Backend == "s3" {
		return export.NewS3(ctx, export.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
	return export.NewLocal(cfg.LocalPath)
}
