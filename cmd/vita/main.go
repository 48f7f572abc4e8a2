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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vita/internal/app"
	"vita/internal/config"
	"vita/internal/db"
	"vita/internal/domain"
	"vita/internal/logging"
	"vita/internal/mcpserver"
	"vita/internal/repo"
	"vita/internal/retrieval"
	"vita/internal/scheduler"
	"vita/internal/server"
	vitasdk "vita/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "vita",
	Short: "Vita wellness and nutrition coach",
	Long: `Vita answers nutrition and wellness questions with a small team of AI specialists.
- Head coach: decides which specialists to consult, checks their answers and writes the reply.
- Nutrition Expert: food databases and a TDEE calculator.
- Science Researcher: live PubMed search with the local research index as fallback.
- Wellness Coach: exercise, sleep, stress and mindfulness.
- Profile: details you mention (age, weight, diet, goals) are remembered per session.
- Workspace: the .vita directory holding the SQLite database; vita.yml holds the config.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VITA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/vita.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if !cmd.Flags().Changed("addr") {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:      cfg.Server.JWTSecret(),
					AllowAnonymous: cfg.Server.AllowAnonymous,
					Logger:         a.Log,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowAnonymous {
					a.Log.Warn().Str("env", cfg.Server.JWTSecretEnv).Msg("no jwt secret set; only API keys will authenticate")
				}
				handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg, Log: a.Log})
				if err != nil {
					return err
				}

				sched, err := scheduler.New(cfg.Retention, a, a.Log)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
				server.StartWebhooks(ctx, a.Repo, cfg.Webhooks, a.Log)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving Vita API")
				fmt.Printf("Serving Vita API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (default from config)")
	return cmd
}

func askCmd() *cobra.Command {
	var session, remote string
	var stream, steps bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the coach a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if remote != "" {
				return askRemote(cmd.Context(), remote, prompt, session, stream, steps)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req := app.AskRequest{Prompt: prompt, SessionID: session}
				var result domain.ExecutionResult
				if stream {
					ch, err := a.AskStream(ctx, req)
					if err != nil {
						return err
					}
					for ev := range ch {
						printProgress(ev.Type, ev.Message)
						if ev.Type.Terminal() && ev.Result != nil {
							result = *ev.Result
						}
					}
				} else {
					out, err := a.Ask(ctx, req)
					if err != nil {
						return err
					}
					result = out.Result
				}
				return printResult(result, steps)
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id (default: default)")
	cmd.Flags().StringVar(&remote, "remote", "", "ask a running server at this base URL (auth from VITA_API_KEY or VITA_TOKEN)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print progress events")
	cmd.Flags().BoolVar(&steps, "steps", false, "print the model call trace")
	return cmd
}

func askRemote(ctx context.Context, baseURL, prompt, session string, stream, steps bool) error {
	c := vitasdk.New(baseURL)
	c.APIKey = viper.GetString("api_key")
	c.BearerToken = viper.GetString("token")
	req := vitasdk.ExecuteRequest{Prompt: prompt, SessionID: session}
	var (
		res vitasdk.Result
		err error
	)
	if stream {
		res, err = c.ExecuteStream(ctx, req, func(ev vitasdk.Event) {
			printProgress(domain.EventType(ev.Event), ev.Message)
		})
	} else {
		res, err = c.Execute(ctx, req)
	}
	if err != nil {
		return err
	}
	result := domain.ExecutionResult{Status: res.Status, Response: res.Response, Error: res.Error}
	for _, s := range res.Steps {
		result.Steps = append(result.Steps, domain.Step{Module: s.Module, Prompt: s.Prompt, Response: s.Response})
	}
	return printResult(result, steps)
}

func printProgress(t domain.EventType, msg string) {
	if viper.GetBool("json") || t.Terminal() || msg == "" {
		return
	}
	fmt.Fprintf(os.Stderr, "… %s\n", msg)
}

func printResult(r domain.ExecutionResult, steps bool) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	if r.Status != domain.StatusOK {
		return errors.New(r.ErrorText())
	}
	fmt.Println(r.ResponseText())
	if steps {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"#", "Module"})
		for i, s := range r.Steps {
			tw.AppendRow(table.Row{i + 1, s.Module})
		}
		tw.Render()
	}
	return nil
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "profile",
		Short: "Inspect or edit the stored user profile",
		Long:  "The profile is what the coach knows about you. Fields mentioned in questions are saved automatically; set lets you fill them in directly.",
	}
	p.AddCommand(profileShowCmd())
	p.AddCommand(profileSetCmd())
	p.AddCommand(profileResetCmd())
	return p
}

func profileShowCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the profile of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				prof, err := a.Profile(ctx, session)
				if err != nil {
					return err
				}
				return printProfile(prof)
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	return cmd
}

func profileSetCmd() *cobra.Command {
	var session string
	var update domain.UserProfile
	var age int
	var weight, height float64
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set profile fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("age") {
				update.Age = &age
			}
			if cmd.Flags().Changed("weight") {
				update.WeightKg = &weight
			}
			if cmd.Flags().Changed("height") {
				update.HeightCm = &height
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				merged, changed, err := a.UpdateProfile(ctx, session, update)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					if len(changed) == 0 {
						fmt.Println("nothing changed")
					} else {
						fmt.Printf("updated: %s\n", strings.Join(changed, ", "))
					}
				}
				return printProfile(merged)
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&update.Name, "name", "", "name")
	cmd.Flags().IntVar(&age, "age", 0, "age in years")
	cmd.Flags().StringVar(&update.Sex, "sex", "", "male or female")
	cmd.Flags().Float64Var(&weight, "weight", 0, "weight in kg")
	cmd.Flags().Float64Var(&height, "height", 0, "height in cm")
	cmd.Flags().StringVar(&update.ActivityLevel, "activity", "", "sedentary, light, moderate, active or very_active")
	cmd.Flags().StringVar(&update.DietaryRestrictions, "diet", "", "dietary restrictions")
	cmd.Flags().StringVar(&update.MedicalConditions, "conditions", "", "medical conditions")
	cmd.Flags().StringVar(&update.Goals, "goals", "", "goals")
	return cmd
}

func profileResetCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the profile of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.ResetProfile(ctx, session); err != nil {
					return err
				}
				fmt.Println("profile cleared")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	return cmd
}

func printProfile(p domain.UserProfile) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, f := range domain.ProfileFields {
		v, ok := p.Value(f)
		if !ok {
			v = "-"
		}
		tw.AppendRow(table.Row{f, v})
	}
	tw.Render()
	return nil
}

func historyCmd() *cobra.Command {
	var f repo.HistoryFilters
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.History(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Status", "Prompt", "Response", "Run"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.CreatedAt, c.Status, clip(c.Prompt, 40), clip(c.Response, 60), c.RunID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SessionID, "session", "", "session id")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "number of conversations")
	cmd.Flags().BoolVar(&f.IncludeSteps, "steps", false, "include step traces (JSON output)")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect recorded runs"}
	runs.AddCommand(&cobra.Command{
		Use:   "events <run_id>",
		Short: "Show the progress events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evs, err := a.RunEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event", "Specialist", "Message"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.Type, ev.Specialist, clip(ev.Message, 80)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return runs
}

func indexCmd() *cobra.Command {
	idx := &cobra.Command{
		Use:   "index",
		Short: "Manage the local passage index",
		Long:  "Specialists search the local index (food databases, research abstracts, wellness articles). Load JSONL lines of {namespace, id, text, source}.",
	}
	var ns string
	load := &cobra.Command{
		Use:   "load <file.jsonl>",
		Short: "Add passages from a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var namespace retrieval.Namespace
			if ns != "" {
				parsed, err := retrieval.ParseNamespace(ns)
				if err != nil {
					return err
				}
				namespace = parsed
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.LoadIndex(ctx, f, namespace)
				if err != nil {
					return fmt.Errorf("loaded %d passages before failing: %w", n, err)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"loaded": n})
				}
				fmt.Printf("loaded %d passages\n", n)
				return nil
			})
		},
	}
	load.Flags().StringVar(&ns, "namespace", "", "namespace for lines that omit one (openfoodfacts, usda, pubmed, wellness)")
	idx.AddCommand(load)
	return idx
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}

	var name string
	create := &cobra.Command{
		Use:   "create <actor_id>",
		Short: "Create an API key; the key is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key, plain, err := r.CreateAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": plain})
				}
				fmt.Printf("id: %s\nkey: %s\n", key.ID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")

	var actor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&actor, "actor", "", "only keys of this actor")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	keys.AddCommand(create, list, del)
	return keys
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the coach as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return mcpserver.Serve(a)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage vita.yml",
		Long:  "vita.yml sets the model endpoint, retrieval backend, live search, profile store, orchestrator limits, server auth, retention and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default vita.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
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
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Logging)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Config:    cfg,
		Log:       newLogger(cfg),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Repo)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
