package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signoff/internal/app"
	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/engine/notify"
	"signoff/internal/mailer"
	"signoff/internal/migrate"
	"signoff/internal/repo"
	"signoff/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "so",
	Short: "Signoff CLI",
	Long: `Signoff gates publication behind staged editorial approval.
Core concepts:
- Workspace: your .signoff directory with the database; groups and workflows
  are stored in the DB and imported from signoff.yml explicitly.
- Pages and titles: pages form a tree, each page carries per-language titles.
  A title with a draft revision is what gets moderated.
- Workflows: ordered approval stages, each owned by a user group. Optional
  stages may be skipped; mandatory stages gate publication.
- Requests: a title enters moderation with 'so request'. Approvals walk the
  stages in order; a reject, cancel, or publish closes the chain.
- Bindings: attach a workflow to a title, optionally inherited by titles on
  descendant pages in the same language. Otherwise the default workflow
  applies.
- Event log: diary of every moderation action, view with 'so log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SIGNOFF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("site", "", "site id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("site", rootCmd.PersistentFlags().Lookup("site"))
}

func registerCommands() {
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(pageCmd())
	rootCmd.AddCommand(titleCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(publishedCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
		Long:  "Workflows list the approval stages a title must clear before it can be published. Each stage belongs to a group; optional stages can be skipped.",
	}
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowSetDefaultCmd())
	wf.AddCommand(workflowDeleteCmd())
	return wf
}

func workflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkflows(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Default", "Stages"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.Default, len(w.Stages)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowCreateCmd() *cobra.Command {
	var name string
	var isDefault bool
	var stages []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow",
		Long:  "Stages are given as group:order or group:order:optional, e.g. --stage editors:10 --stage legal:20:optional.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			w := domain.Workflow{
				ID:        uuid.NewString(),
				Name:      name,
				Default:   isDefault,
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			for _, spec := range stages {
				s, err := parseStageSpec(spec)
				if err != nil {
					return err
				}
				s.ID = uuid.NewString()
				s.WorkflowID = w.ID
				w.Stages = append(w.Stages, s)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.CreateWorkflow(ctx, w); err != nil {
					return err
				}
				created, err := e.Repo.GetWorkflow(ctx, w.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	cmd.Flags().BoolVar(&isDefault, "default", false, "make this the default workflow")
	cmd.Flags().StringArrayVar(&stages, "stage", []string{}, "stage spec group:order[:optional] (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func parseStageSpec(spec string) (domain.Stage, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return domain.Stage{}, fmt.Errorf("invalid stage spec %q, want group:order[:optional]", spec)
	}
	var order int
	if _, err := fmt.Sscanf(parts[1], "%d", &order); err != nil {
		return domain.Stage{}, fmt.Errorf("invalid stage order in %q", spec)
	}
	s := domain.Stage{GroupID: parts[0], Order: order}
	if len(parts) == 3 {
		if parts[2] != "optional" {
			return domain.Stage{}, fmt.Errorf("invalid stage modifier %q, only 'optional' is allowed", parts[2])
		}
		s.Optional = true
	}
	return s, nil
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-name>",
		Short: "Show a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkflow(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					w, err = e.Repo.GetWorkflowByName(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workflowSetDefaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-default <id>",
		Short: "Mark a workflow as the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.SetDefault(ctx, args[0]); err != nil {
					return err
				}
				w, err := e.Repo.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workflowDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteWorkflow(ctx, args[0])
			})
		},
	}
	return cmd
}

func groupCmd() *cobra.Command {
	grp := &cobra.Command{
		Use:   "group",
		Short: "Manage user groups",
		Long:  "Groups own workflow stages. Members of a stage's group are the only users who may approve or reject at that stage.",
	}
	grp.AddCommand(groupListCmd())
	grp.AddCommand(groupCreateCmd())
	grp.AddCommand(groupMembersCmd())
	grp.AddCommand(groupAddMemberCmd())
	grp.AddCommand(groupRemoveMemberCmd())
	return grp
}

func groupListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListGroups(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func groupCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.EnsureGroup(ctx, tx, id, name, now); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				g, err := r.GetGroup(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "group id")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to id)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func groupMembersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members <group-id>",
		Short: "List group members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetGroup(ctx, args[0]); err != nil {
					return err
				}
				users, err := r.ListMembers(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(users)
			})
		},
	}
	return cmd
}

func groupAddMemberCmd() *cobra.Command {
	var userID, email string
	cmd := &cobra.Command{
		Use:   "add-member <group-id>",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetGroup(ctx, args[0]); err != nil {
					return err
				}
				return r.AddGroupMember(ctx, args[0], userID, email)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "user email for notifications")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func groupRemoveMemberCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "remove-member <group-id>",
		Short: "Remove a user from a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.RemoveMember(ctx, tx, args[0], userID); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func pageCmd() *cobra.Command {
	page := &cobra.Command{
		Use:   "page",
		Short: "Manage pages",
	}
	page.AddCommand(pageCreateCmd())
	page.AddCommand(pageListCmd())
	return page
}

func pageCreateCmd() *cobra.Command {
	var slug, parent string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if slug == "" {
				return fmt.Errorf("--slug required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := domain.Page{
					ID:        uuid.NewString(),
					SiteID:    e.SiteID(),
					Slug:      slug,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if parent != "" {
					p.ParentID = &parent
				}
				if err := e.Repo.InsertPage(ctx, p); err != nil {
					return err
				}
				created, err := e.Repo.GetPage(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "page slug")
	cmd.Flags().StringVar(&parent, "parent", "", "parent page id")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func pageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPages(ctx, e.SiteID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Slug", "Parent", "Depth"})
				for _, p := range items {
					parent := ""
					if p.ParentID != nil {
						parent = *p.ParentID
					}
					tw.AppendRow(table.Row{p.ID, p.Slug, parent, p.Depth})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func titleCmd() *cobra.Command {
	title := &cobra.Command{
		Use:   "title",
		Short: "Manage titles",
		Long:  "A title is one language version of a page's content. Only titles with a draft revision can enter moderation.",
	}
	title.AddCommand(titleCreateCmd())
	title.AddCommand(titleListCmd())
	title.AddCommand(titleBindCmd())
	title.AddCommand(titleUnbindCmd())
	title.AddCommand(titleWorkflowCmd())
	return title
}

func titleCreateCmd() *cobra.Command {
	var pageID, language, text string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a title for a page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pageID == "" || language == "" {
				return fmt.Errorf("--page and --language required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetPage(ctx, pageID); err != nil {
					return err
				}
				t := domain.Title{
					ID:        uuid.NewString(),
					PageID:    pageID,
					Language:  language,
					Text:      text,
					Draft:     true,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertTitle(ctx, t); err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&pageID, "page", "", "page id")
	cmd.Flags().StringVar(&language, "language", "", "language code")
	cmd.Flags().StringVar(&text, "text", "", "title text")
	_ = cmd.MarkFlagRequired("page")
	_ = cmd.MarkFlagRequired("language")
	return cmd
}

func titleListCmd() *cobra.Command {
	var pageID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List titles for a page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pageID == "" {
				return fmt.Errorf("--page required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTitles(ctx, pageID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&pageID, "page", "", "page id")
	_ = cmd.MarkFlagRequired("page")
	return cmd
}

func titleBindCmd() *cobra.Command {
	var workflowID string
	var descendants bool
	cmd := &cobra.Command{
		Use:   "bind <title-id>",
		Short: "Bind a workflow to a title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflowID == "" {
				return fmt.Errorf("--workflow required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetTitle(ctx, args[0]); err != nil {
					return err
				}
				if _, err := e.Repo.GetWorkflow(ctx, workflowID); err != nil {
					return err
				}
				b := domain.Binding{
					TitleID:     args[0],
					WorkflowID:  workflowID,
					Descendants: descendants,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.UpsertBinding(ctx, b); err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().BoolVar(&descendants, "descendants", false, "inherit to same-language titles on descendant pages")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func titleUnbindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unbind <title-id>",
		Short: "Remove a title's workflow binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteBinding(ctx, args[0])
			})
		},
	}
	return cmd
}

func titleWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow <title-id>",
		Short: "Show the workflow governing a title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTitle(ctx, args[0])
				if err != nil {
					return err
				}
				w, err := e.ResolveWorkflow(ctx, t)
				if err != nil {
					return err
				}
				if w == nil {
					fmt.Println("no workflow governs this title")
					return nil
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func moderationCmd(use, short string, fn func(engine.Engine) func(context.Context, engine.ActionOptions) (domain.Action, error)) *cobra.Command {
	var message, editor string
	cmd := &cobra.Command{
		Use:   use + " <title-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.ActionOptions{
					TitleID: args[0],
					UserID:  viper.GetString("user-id"),
					Message: message,
					Editor:  editor,
				}
				a, err := fn(e)(ctx, opts)
				if err != nil {
					return err
				}
				dispatchFor(e).Send(ctx, a, editor)
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "message shown to recipients")
	cmd.Flags().StringVar(&editor, "editor", "", "notify only this member of the next stage's group")
	return cmd
}

func requestCmd() *cobra.Command {
	return moderationCmd("request", "Open an approval request for a title", func(e engine.Engine) func(context.Context, engine.ActionOptions) (domain.Action, error) {
		return e.SubmitRequest
	})
}

func approveCmd() *cobra.Command {
	return moderationCmd("approve", "Approve the open request at the next eligible stage", func(e engine.Engine) func(context.Context, engine.ActionOptions) (domain.Action, error) {
		return e.Approve
	})
}

func rejectCmd() *cobra.Command {
	return moderationCmd("reject", "Reject the open request", func(e engine.Engine) func(context.Context, engine.ActionOptions) (domain.Action, error) {
		return e.Reject
	})
}

func cancelCmd() *cobra.Command {
	return moderationCmd("cancel", "Cancel the open request (requester only)", func(e engine.Engine) func(context.Context, engine.ActionOptions) (domain.Action, error) {
		return e.Cancel
	})
}

func publishedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "published <title-id>",
		Short: "Record that a title was published",
		Long:  "Runs the publish hook: verifies the chain cleared every mandatory stage, closes it, and clears the draft flag.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RecordPublish(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <title-id>",
		Short: "Show a title's moderation status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.Status(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Title: %s\n", st.TitleID)
				if st.WorkflowName != "" {
					fmt.Printf("Workflow: %s\n", st.WorkflowName)
				}
				fmt.Printf("Status: %s (open=%v publishable=%v editable=%v)\n", st.Status, st.Open, st.Publishable, st.Editable)
				if len(st.Chain) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Kind", "User", "Stage", "At"})
					for _, a := range st.Chain {
						user, stage := "", ""
						if a.UserID != nil {
							user = *a.UserID
						}
						if a.StageID != nil {
							stage = *a.StageID
						}
						tw.AppendRow(table.Row{a.Kind, user, stage, a.CreatedAt})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	return cmd
}

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List titles awaiting your approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.RequiringAction(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Title", "Workflow", "Status"})
				for _, st := range items {
					tw.AppendRow(table.Row{st.TitleID, st.WorkflowName, st.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "signoff.yml declares the site, the mail webhook, groups with members, and workflow definitions. Import applies it to the DB; open chains keep their snapshots.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter signoff.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if siteID == "" {
				siteID = "default"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(siteID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&siteID, "site-id", "", "site id for the generated config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
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
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import groups and workflows from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg := e.Config
				if filePath != "" {
					loaded, err := config.FromFile(filePath)
					if err != nil {
						return err
					}
					cfg = loaded
				}
				if err := app.ImportConfig(ctx, e.Repo, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (defaults to workspace signoff.yml)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of every moderation action: requests, approvals, rejections, cancellations, publishes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.SiteID(), evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveSiteAndConfig(cmd.Context(), workspace, viper.GetString("site"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("SIGNOFF_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" && !allowLegacyHeader {
				return fmt.Errorf("SIGNOFF_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Notify:   dispatchFor(e),
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Signoff API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (dev only)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("user-id")
			}
			raw := uuid.NewString()
			key := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   actorID,
				Name:      name,
				KeyHash:   repo.HashAPIKey(raw),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"key":      raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --user-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveSiteAndConfig(ctx, workspace, viper.GetString("site"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func dispatchFor(e engine.Engine) notify.Dispatch {
	d := notify.Dispatch{DB: e.DB, Repo: e.Repo, Identity: e.Identity}
	if hook := mailer.FromConfig(e.Config); hook != nil {
		d.Mailer = hook
	}
	return d
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
