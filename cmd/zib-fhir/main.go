package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/nlcore/zib-fhir/internal/config"
	"github.com/nlcore/zib-fhir/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zib-fhir",
		Short: "Multi-tenant FHIR R4 API for nl-core profiles",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withPool loads the configuration and runs fn with a connected pool.
func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")
			if !db.ValidTenantID(id) {
				return fmt.Errorf("--id must match [a-zA-Z0-9_-]{1,64}")
			}
			if name == "" {
				name = id
			}

			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := db.NewTenantStore(pool).CreateTenant(ctx, id, name); err != nil {
					return err
				}
				fmt.Printf("Tenant %s created.\n", id)
				return nil
			})
		},
	}
	createCmd.Flags().String("id", "", "Tenant identifier, sent by clients in X-Tenant-ID")
	createCmd.Flags().String("name", "", "Display name")
	cmd.AddCommand(createCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage Gateway user mappings",
	}

	mapCmd := &cobra.Command{
		Use:   "map",
		Short: "Grant a Gateway user a role in a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mappingFromFlags(cmd)
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := db.NewTenantStore(pool).UpsertUserMapping(ctx, m); err != nil {
					return err
				}
				fmt.Printf("User %s mapped to %s in tenant %s.\n", m.GatewayUserID, m.Role, m.TenantID)
				return nil
			})
		},
	}
	mapCmd.Flags().String("tenant", "", "Tenant identifier")
	mapCmd.Flags().String("user", "", "Gateway user id")
	mapCmd.Flags().String("role", "", "admin, practitioner, nurse, receptionist or patient")
	mapCmd.Flags().String("patient", "", "Patient id the user may access (role patient)")
	mapCmd.Flags().String("practitioner", "", "Practitioner id of the user")
	cmd.AddCommand(mapCmd)

	return cmd
}

func mappingFromFlags(cmd *cobra.Command) (*db.UserMapping, error) {
	tenant, _ := cmd.Flags().GetString("tenant")
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	patient, _ := cmd.Flags().GetString("patient")
	practitioner, _ := cmd.Flags().GetString("practitioner")

	if !db.ValidTenantID(tenant) {
		return nil, fmt.Errorf("--tenant must match [a-zA-Z0-9_-]{1,64}")
	}
	if user == "" {
		return nil, fmt.Errorf("--user is required")
	}
	if !db.ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if role == "patient" && patient == "" {
		return nil, fmt.Errorf("--patient is required for role patient")
	}

	m := &db.UserMapping{TenantID: tenant, GatewayUserID: user, Role: role, Active: true}
	if patient != "" {
		m.PatientID = &patient
	}
	if practitioner != "" {
		m.PractitionerID = &practitioner
	}
	return m, nil
}
