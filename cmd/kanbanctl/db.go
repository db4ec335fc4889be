package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/kanban/internal/auth"
	"github.com/kiwari-pos/kanban/internal/cardstore"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the card table migrations to DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			version, err := cardstore.Migrate(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			log.Info("migrations applied", zap.Uint("version", version))
			return nil
		},
	}
}

// seedCards is a small board covering every bucket and several mechanisms.
var seedCards = []cardstore.NewCard{
	{Name: "Nitrile gloves (M)", Status: kanban.StatusRequesting, SupplierName: "Acme Medical", Mechanism: kanban.MechanismEmail, Quantity: decimal.NewFromInt(10), Unit: "box", UnitCost: decimal.RequireFromString("8.50")},
	{Name: "Surgical masks", Status: kanban.StatusRequesting, SupplierName: "Acme Medical", Mechanism: kanban.MechanismEmail, Quantity: decimal.NewFromInt(5), Unit: "box", UnitCost: decimal.RequireFromString("12.00"), Notes: "Level 2"},
	{Name: "Printer paper A4", Status: kanban.StatusRequesting, SupplierName: "Office Depot", Mechanism: kanban.MechanismOnline, LinkURL: "https://shop.example/paper-a4", Quantity: decimal.NewFromInt(4), Unit: "ream", UnitCost: decimal.RequireFromString("5.25")},
	{Name: "Toner cartridge", Status: kanban.StatusRequesting, SupplierName: "Office Depot", Mechanism: kanban.MechanismOnline, Quantity: decimal.NewFromInt(1), Unit: "pc", UnitCost: decimal.RequireFromString("64.90")},
	{Name: "Coffee beans", Status: kanban.StatusRequested, SupplierName: "Bean Co", Mechanism: kanban.MechanismPhone, Quantity: decimal.RequireFromString("2.5"), Unit: "kg", UnitCost: decimal.RequireFromString("18.00")},
	{Name: "Hand soap refill", Status: kanban.StatusInProcess, SupplierName: "CleanPro", Mechanism: kanban.MechanismPurchaseOrder, Quantity: decimal.NewFromInt(6), Unit: "l", UnitCost: decimal.RequireFromString("3.10")},
	{Name: "Zip ties", Status: kanban.StatusRequesting, Mechanism: kanban.MechanismInStore, Quantity: decimal.NewFromInt(200), Unit: "pc", UnitCost: decimal.RequireFromString("0.02")},
	{Name: "Label rolls", Status: kanban.StatusAvailable, SupplierName: "Office Depot", Mechanism: kanban.MechanismOnline, LinkURL: "https://shop.example/labels", Quantity: decimal.NewFromInt(3), Unit: "roll", UnitCost: decimal.RequireFromString("4.40")},
}

func seedCmd() *cobra.Command {
	var (
		tenantFlag string
		force      bool
		withToken  bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a sample board for a tenant into DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			tenantID := cfg.TenantID
			if tenantFlag != "" {
				if tenantID, err = uuid.Parse(tenantFlag); err != nil {
					return fmt.Errorf("invalid --tenant: %w", err)
				}
			}
			if tenantID == uuid.Nil {
				tenantID = uuid.New()
				log.Info("no tenant given, generated one", zap.String("tenant_id", tenantID.String()))
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}

			// All cards or none.
			tx, err := pool.Begin(ctx)
			if err != nil {
				return fmt.Errorf("begin transaction: %w", err)
			}
			defer tx.Rollback(ctx)

			var existing int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM kanban_cards WHERE tenant_id = $1`, tenantID).Scan(&existing); err != nil {
				return fmt.Errorf("count cards: %w", err)
			}
			if existing > 0 && !force {
				log.Info("tenant already has cards, skipping", zap.Int("cards", existing))
				return nil
			}

			store := cardstore.NewPostgresStore(tx, tenantID)
			for _, c := range seedCards {
				id, err := store.InsertCard(ctx, c)
				if err != nil {
					return err
				}
				log.Debug("seeded card", zap.String("id", string(id)), zap.String("name", c.Name))
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			log.Info("seed completed", zap.String("tenant_id", tenantID.String()), zap.Int("cards", len(seedCards)))

			if withToken {
				token, err := auth.GenerateToken(cfg.JWTSecret, uuid.New(), tenantID, cfg.CompanyID, enum.RoleOwner)
				if err != nil {
					return fmt.Errorf("generate token: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "TENANT_ID=%s\nTOKEN=%s\n", tenantID, token)
				log.Info("token expires", zap.Time("at", time.Now().Add(15*time.Minute)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "Tenant to seed (default TENANT_ID, or a new one)")
	cmd.Flags().BoolVar(&force, "force", false, "Seed even if the tenant already has cards")
	cmd.Flags().BoolVar(&withToken, "token", false, "Print an OWNER token for the tenant")
	return cmd
}
