package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"readyline/internal/app"
	"readyline/internal/catalog"
	"readyline/internal/config"
	"readyline/internal/db"
	"readyline/internal/engine"
	"readyline/internal/logger"
	"readyline/internal/migrate"
	"readyline/internal/repo"
	"readyline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Readyline CLI",
	Long: `Readyline runs maintenance readiness interviews against a questionnaire catalog.
- Catalog: role categories, questionnaires and companies (org tree, roles, contacts, assessments), imported from YAML with 'rl import'.
- Interview: one response per question, scoped to company roles or bound to a single contact.
- Applicability: a question is answerable when its role categories match a selected role; questions without categories apply to everyone.
- Scoring: a manual rating per response, or part answers mapped to levels and floored to a rating.
- Progress: answered applicable questions over applicable questions; status moves pending -> in_progress -> completed.
- Event log: every change is recorded, view with 'rl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return app.LoadEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(app.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// Keys without a persistent flag still need to be known to Unmarshal.
	for _, key := range []string{"company", "jwt-secret", "companies"} {
		_ = viper.BindEnv(key)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("company", "", "company id (overrides READYLINE_COMPANY)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("company", rootCmd.PersistentFlags().Lookup("company"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(rolesCmd())
	rootCmd.AddCommand(interviewCmd())
	rootCmd.AddCommand(responseCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage readyline.yml",
		Long:  "readyline.yml holds the server address, logging, the strict scoring switch, status write-through and the org path depth.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default readyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.yml>",
		Short: "Import a catalog of questionnaires and companies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := catalog.FromFile(args[0])
			if err != nil {
				return err
			}
			b, err := f.Resolve(time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.ImportCatalog(ctx, b, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := newTable(table.Row{"Kind", "Count"})
				for _, k := range []string{"role_categories", "questionnaires", "questions", "companies", "roles", "contacts", "assessments"} {
					tw.AppendRow(table.Row{k, counts[k]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func companyCmd() *cobra.Command {
	c := &cobra.Command{Use: "company", Short: "Inspect companies"}
	c.AddCommand(companyListCmd())
	c.AddCommand(companyUseCmd())
	return c
}

func companyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCompanies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func companyUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the current company for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			companyID := strings.TrimSpace(args[0])
			if companyID == "" {
				return fmt.Errorf("company id is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetCompany(ctx, companyID); err != nil {
					return fmt.Errorf("company %s: %w", companyID, err)
				}
				workspace := viper.GetString("workspace")
				key := app.EnvPrefix + "_COMPANY"
				if err := app.SetEnvValue(app.EnvPath(workspace), key, companyID); err != nil {
					return err
				}
				fmt.Printf("Set %s=%s in %s\n", key, companyID, app.EnvPath(workspace))
				return nil
			})
		},
	}
}

func rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the company's roles with their org path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompany(cmd.Context(), func(ctx context.Context, e engine.Engine, companyID string) error {
				roles, err := e.ListCompanyRoles(ctx, companyID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				tw := newTable(table.Row{"ID", "Category", "Path"})
				for _, r := range roles {
					tw.AppendRow(table.Row{r.ID, r.RoleCategoryID, strings.Join(r.Path, " / ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := app.DecodeSettings(viper.GetViper())
				if err != nil {
					return err
				}
				if s.JWTSecret == "" {
					return fmt.Errorf("%s_JWT_SECRET is required for bearer auth", app.EnvPrefix)
				}
				if !cmd.Flags().Changed("addr") {
					addr = e.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = e.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: s.JWTSecret, AllowLegacyActorHeader: s.AllowLegacy},
					Logger:   e.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				e.Log.Info("serving readyline API", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving readyline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default from readyline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (default from readyline.yml)")
	cmd.Flags().Bool("allow-legacy-actor", false, "accept X-Actor-Id without a token")
	cmd.Flags().Duration("shutdown-timeout", 5*time.Second, "graceful shutdown timeout")
	_ = viper.BindPFlag("allow-legacy-actor", cmd.Flags().Lookup("allow-legacy-actor"))
	_ = viper.BindPFlag("shutdown-timeout", cmd.Flags().Lookup("shutdown-timeout"))
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token scoped to companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.DecodeSettings(viper.GetViper())
			if err != nil {
				return err
			}
			token, err := server.SignToken(s.JWTSecret, s.ActorID, s.Companies, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSlice("companies", nil, "company ids the token may act on (* for all)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	_ = viper.BindPFlag("companies", cmd.Flags().Lookup("companies"))
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.CompanyID = viper.GetString("company")
				items, err := e.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return withDB(workspace, func(r repo.Repo) error {
		e, err := newEngine(r, cfg)
		if err != nil {
			return err
		}
		defer e.Log.Sync()
		return fn(ctx, e)
	})
}

// withCompany resolves the active company before running fn.
func withCompany(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	return withDB(workspace, func(r repo.Repo) error {
		companyID, cfg, err := app.ResolveCompanyAndConfig(ctx, workspace, viper.GetString("company"), r)
		if err != nil {
			return err
		}
		e, err := newEngine(r, cfg)
		if err != nil {
			return err
		}
		defer e.Log.Sync()
		return fn(ctx, e, companyID)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withDB(viper.GetString("workspace"), func(r repo.Repo) error {
		return fn(ctx, r)
	})
}

func withDB(workspace string, fn func(repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(repo.Repo{DB: conn})
}

func newEngine(r repo.Repo, cfg *config.Config) (engine.Engine, error) {
	log, err := logger.New(cfg.Logging.JSON, cfg.Logging.Debug || viper.GetBool("debug"))
	if err != nil {
		return engine.Engine{}, err
	}
	e := engine.New(r.DB, cfg)
	e.Log = log
	return e, nil
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
