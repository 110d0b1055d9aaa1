package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"radsite/internal/action"
	"radsite/internal/app"
	"radsite/internal/apps"
	"radsite/internal/apps/demo"
	"radsite/internal/apps/users"
	"radsite/internal/auth"
	"radsite/internal/config"
	"radsite/internal/db"
	"radsite/internal/engine"
	"radsite/internal/migrate"
	"radsite/internal/model"
	"radsite/internal/repo"
	"radsite/internal/server"
	"radsite/internal/urlsign"
	"radsite/internal/view"
)

var rootCmd = &cobra.Command{
	Use:   "radsite",
	Short: "radsite CLI",
	Long: `radsite serves model-driven sites: apps declare models, actions and views,
and the engine turns them into list/detail pages, action forms and a JSON API.
- Workspace: the directory holding radsite.yml and the sqlite database.
- Apps: installed in the order radsite.yml lists them.
- Actions: callables on models or records; transitions move a field between states.
- Signed URLs: links that carry their own permission, checked with the site secret.
- Event log: every action call and transition, view with 'radsite events'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RADSITE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("secret-key", "", "site secret key (overrides radsite.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("secret-key", rootCmd.PersistentFlags().Lookup("secret-key"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(viewsCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(eventsCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default radsite.yml with a fresh secret key",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			secret, err := newSecret()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(secret)), 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the site and its JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, cfg *config.Config) error {
				if addr == "" {
					addr = cfg.Server.Addr
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: cfg.Server.APIBasePath,
					Webhooks: cfg.Webhooks,
					Context:  ctx,
					Logger:   e.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving %s on http://%s (API at %s, Swagger UI at %s/docs)\n", cfg.Site.Title, addr, cfg.Server.APIBasePath, cfg.Server.APIBasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func migrateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations and create model tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: dbWorkspace(cfg)})
			if err != nil {
				return err
			}
			defer conn.Close()
			pending, err := migrate.Pending(conn)
			if err != nil {
				return err
			}
			for _, s := range pending {
				fmt.Printf("pending: %s\n", s.Name)
			}
			if dryRun {
				return nil
			}
			// engine.New applies the scripts and creates model tables.
			if _, err := newEngine(conn, cfg); err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s)\n", len(pending))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list pending migrations")
	return cmd
}

func seedCmd() *cobra.Command {
	opts := demo.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the site with reproducible demo data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				sum, err := demo.Seed(ctx, e, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	cmd.Flags().IntVar(&opts.Users, "users", opts.Users, "number of users")
	cmd.Flags().IntVar(&opts.Companies, "companies", opts.Companies, "number of company contacts")
	cmd.Flags().IntVar(&opts.Persons, "persons", opts.Persons, "number of person contacts")
	cmd.Flags().IntVar(&opts.Partners, "partners", opts.Partners, "number of partners")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	cmd.Flags().StringVar(&opts.Password, "password", opts.Password, "password of every generated user")
	return cmd
}

func actionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List registered actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				all := e.Actions.All()
				if viper.GetBool("json") {
					type row struct {
						Name       string `json:"name"`
						Owner      string `json:"owner,omitempty"`
						Instance   bool   `json:"instance"`
						Field      string `json:"field,omitempty"`
						Transition string `json:"transition,omitempty"`
					}
					out := make([]row, 0, len(all))
					for _, a := range all {
						out = append(out, row{Name: a.FullName, Owner: ownerKey(a.Owner), Instance: a.NeedsInstance, Field: a.Field, Transition: transitionOf(a.Transition)})
					}
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Owner", "Instance", "Field", "Transition", "Verbose name"})
				for _, a := range all {
					tw.AppendRow(table.Row{a.FullName, ownerKey(a.Owner), a.NeedsInstance, a.Field, transitionOf(a.Transition), a.VerboseName})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func viewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "List registered views and their routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Path", "Level", "Source"})
				for _, it := range e.Views.Views() {
					tw.AppendRow(table.Row{it.Name, strings.Join(it.Paths, " "), levelOf(it.Level), it.Source})
				}
				for _, it := range e.Views.ModelViews() {
					path := it.Path()
					if it.Action == view.EmbedList || it.Action == view.EmbedDetail {
						path = "(embedded)"
					}
					tw.AppendRow(table.Row{it.Name, path, levelOf(it.Level), it.Source})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func signCmd() *cobra.Command {
	var expire time.Duration
	var never bool
	var verbs []string
	var username string
	cmd := &cobra.Command{
		Use:   "sign <path>",
		Short: "Sign a site path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				var opts []urlsign.Option
				switch {
				case never:
					opts = append(opts, urlsign.Never())
				case expire != 0:
					opts = append(opts, urlsign.Expire(expire))
				}
				if len(verbs) > 0 {
					opts = append(opts, urlsign.Verbs(verbs...))
				}
				if username != "" {
					store, err := userStore(e)
					if err != nil {
						return err
					}
					u, err := store.ByUsername(ctx, username)
					if err != nil {
						return fmt.Errorf("user %s: %w", username, err)
					}
					opts = append(opts, urlsign.User(u.PK()))
				}
				u, err := e.Signer.Sign(args[0], opts...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"url": u.FullPath(), "signed": u})
				}
				fmt.Println(u.FullPath())
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&expire, "expire", 0, "lifetime (defaults to site.signed_url_expire)")
	cmd.Flags().BoolVar(&never, "never", false, "never expire")
	cmd.Flags().StringSliceVar(&verbs, "verbs", nil, "HTTP verbs the URL is meant for")
	cmd.Flags().StringVar(&username, "user", "", "username the URL acts on behalf of")
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <path>",
		Short: "Check the signature of a signed path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				u, err := e.Signer.Check(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Printf("Path: %s\n", u.Path)
				if t, ok := u.Expires(); ok {
					fmt.Printf("Valid until: %s\n", t.UTC().Format(time.RFC3339))
				} else {
					fmt.Println("Valid until: never")
				}
				if len(u.Verbs) > 0 {
					fmt.Printf("Verbs: %s\n", strings.Join(u.Verbs, ", "))
				}
				if u.UserPK != nil {
					fmt.Printf("User: %d\n", *u.UserPK)
				}
				return nil
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				store, err := userStore(e)
				if err != nil {
					return err
				}
				u, err := store.Authenticate(ctx, username, password)
				if err != nil {
					return err
				}
				token, err := e.Env.Sessions.Issue(u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "user": u})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage site users"}
	cmd.AddCommand(userCreateCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var in users.NewUser
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user; prints the generated password when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				store, err := userStore(e)
				if err != nil {
					return err
				}
				generated := in.Password == ""
				if generated {
					if in.Password, err = users.RandomPassword(); err != nil {
						return err
					}
				}
				rec, err := store.Create(ctx, in)
				if err != nil {
					return err
				}
				out := map[string]any{"id": rec.PK(), "username": rec.Str("username")}
				if generated {
					out["password"] = in.Password
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "", "username")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (generated when empty)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "API keys let scripts call the JSON API as a user. Send them in the X-Api-Key header.",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var username, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown only once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				store, err := userStore(e)
				if err != nil {
					return err
				}
				u, err := store.ByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("user %s: %w", username, err)
				}
				key, plain, err := e.Repo.CreateAPIKey(ctx, u.PK(), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "user_id": key.UserID, "name": key.Name, "key": plain})
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				keys, err := e.Repo.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "only keys of this user")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func eventsCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *config.Config) error {
				items, err := e.Repo.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Action", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += "#" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.Action, entity, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.Action, "action", "", "action name filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().Int64Var(&f.Cursor, "before", 0, "only events older than this id")
	return cmd
}

// --- helpers ---

// loadConfig reads radsite.yml from the workspace. The secret-key flag and
// RADSITE_SECRET_KEY take precedence over the file.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	path := config.Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with radsite init", path)
		}
		return nil, err
	}
	cfg := config.Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if key := viper.GetString("secret-key"); key != "" {
		cfg.Site.SecretKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dbWorkspace resolves database.workspace against the workspace flag.
func dbWorkspace(cfg *config.Config) string {
	ws := cfg.Database.Workspace
	if filepath.IsAbs(ws) {
		return ws
	}
	return filepath.Join(viper.GetString("workspace"), ws)
}

func newEngine(conn *sql.DB, cfg *config.Config) (*engine.Engine, error) {
	installed, err := app.Resolve(apps.Available(), cfg.Apps)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{DB: conn, Site: cfg.Site, Apps: installed, Logger: log.Default()})
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine, *config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: dbWorkspace(cfg)})
	if err != nil {
		return err
	}
	defer conn.Close()
	e, err := newEngine(conn, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, e, cfg)
}

func userStore(e *engine.Engine) (*users.Store, error) {
	a, ok := e.App(users.Label)
	if !ok {
		return nil, fmt.Errorf("the %s app is not installed", users.Label)
	}
	return a.(*users.App).Store(), nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func ownerKey(m *model.Model) string {
	if m == nil {
		return ""
	}
	return m.Key()
}

func transitionOf(t *action.Transition) string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v -> %v", t.Field, t.Source, t.Target)
}

// levelOf names the declared level; zero means the site default applies.
func levelOf(l auth.Level) string {
	if l == 0 {
		return "site"
	}
	return l.String()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return printJSON(v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, fields[k]})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
