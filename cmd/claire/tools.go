package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"claireportal/internal/auth"
	"claireportal/internal/plays"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and seed the play catalog and admin list",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.migrate(cmd.Context())
		},
	}
}

func playsCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "plays",
		Short: "List the play catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			views, err := a.container.Catalog.List(cmd.Context(), plays.Category(category))
			if err != nil {
				return err
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Code", "Name", "Category", "Docs", "Agent", "Active"})
			for _, v := range views {
				tw.AppendRow(table.Row{v.Code, v.Name, v.Category, v.DocumentationStatus, v.ContentAgentStatus, v.IsActive})
			}
			tw.AppendFooter(table.Row{"", "", "", "", "Total", len(views)})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by category (allbound, outbound, nurture)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID, email, roles string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			secret := a.cfg.Auth.JWTSecret
			if secret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			if ttl <= 0 {
				ttl = a.cfg.Auth.AccessTTL
			}
			svc := auth.NewJWTService(secret, a.cfg.Auth.Issuer, ttl, nil)
			var roleList []string
			if roles != "" {
				roleList = strings.Split(roles, ",")
			}
			tok, err := svc.GenerateAccessToken(userID, email, roleList)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&roles, "roles", "", "comma separated roles, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.access_ttl)")
	return cmd
}

func exportCmd() *cobra.Command {
	var userID, outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a user's strategy PDF to disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := a.container.ExportService.Export(cmd.Context(), userID)
			if err != nil {
				return err
			}
			path := filepath.Join(outDir, doc.FileName)
			if err := os.WriteFile(path, doc.Content, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Printf("%s (%d pages)\n", path, doc.Pages)
			if doc.Location != "" {
				fmt.Println("archived:", doc.Location)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}
