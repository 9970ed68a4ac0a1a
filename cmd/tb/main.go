package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
	"taskboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard tracks collaborative work with an optimistic-concurrency task
lifecycle, dependency validation and workflow automation.
- Workspace: the .taskboard directory holding the database.
- Tasks: available -> taken -> ongoing -> completed; claim, start, pause,
  release and complete are versioned writes that fail loudly on conflicts.
- Dependencies: edges between tasks; cycles and cross-project edges are
  rejected before they are stored.
- Workflows and rules: automation that fires when a task or card reaches a
  target state, at most once per (rule, resource).
- Event log: diary of changes, view with 'tb log tail'.`,
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
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides the single-project default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectInitCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectInitCmd() *cobra.Command {
	var id, orgID, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a project in this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.New().String()
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				cfg = config.Default(id)
			}
			cfg.Project.ID = id
			cfg.Project.OrgID = orgID
			cfg.Project.Name = name
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, orgID, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Org", "Name", "Status"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.OrgID, p.Name, p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Project configuration"}
	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML config into the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetProject(ctx, cfg.Project.ID); err != nil {
					return err
				}
				return r.UpsertProjectConfig(ctx, cfg.Project.ID, cfg)
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	_ = importCmd.MarkFlagRequired("file")

	exportCmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Print the stored project config as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := r.GetProjectConfig(ctx, args[0])
				if err != nil {
					return err
				}
				out, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
	cfgCmd.AddCommand(importCmd)
	cfgCmd.AddCommand(exportCmd)
	return cfgCmd
}

func memberCmd() *cobra.Command {
	mem := &cobra.Command{Use: "member", Short: "Manage project members"}
	var role string
	addCmd := &cobra.Command{
		Use:   "add <actor-id>",
		Short: "Add or update a project member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMember(ctx, e.Config.Project.ID, viper.GetString("actor-id"), args[0], role)
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	addCmd.Flags().StringVar(&role, "role", "member", "role: member, manager or admin")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List project members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				members, err := e.Repo.ListMembers(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Actor", "Role", "Since"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.ActorID, m.Role, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	mem.AddCommand(addCmd)
	mem.AddCommand(listCmd)
	return mem
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskEditCmd())
	for _, verb := range []string{"claim", "start", "pause", "release", "complete"} {
		task.AddCommand(taskTransitionCmd(verb))
	}
	task.AddCommand(taskDepCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				opts.ActorID = viper.GetString("actor-id")
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.TypeID, "type", "", "task type from the project catalog")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority 1..5")
	cmd.Flags().StringVar(&opts.MilestoneID, "milestone", "", "milestone id")
	cmd.Flags().StringVar(&opts.CardID, "card", "", "card id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "State", "Ver", "Claimed By", "Blocked"})
				for _, t := range tasks {
					claimed := ""
					if t.ClaimedBy != nil {
						claimed = *t.ClaimedBy
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.TypeID, t.Status.State(), t.Version, claimed, t.BlockedCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.State, "state", "", "state filter: available, taken, ongoing, completed")
	cmd.Flags().StringVar(&f.TypeID, "type", "", "task type filter")
	cmd.Flags().StringVar(&f.ClaimedBy, "claimed-by", "", "claimant filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskEditCmd() *cobra.Command {
	var expect int64
	var title, description, typeID, milestone, card string
	var priority int
	cmd := &cobra.Command{
		Use:   "edit <task-id>",
		Short: "Edit task fields under version guard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TaskEditOptions{
					TaskID:  args[0],
					ActorID: viper.GetString("actor-id"),
				}
				opts.ExpectedVersion = expect
				if opts.ExpectedVersion == 0 {
					t, err := e.Repo.GetTaskRow(ctx, args[0])
					if err != nil {
						return err
					}
					opts.ExpectedVersion = t.Version
				}
				flags := cmd.Flags()
				if flags.Changed("title") {
					opts.Title = &title
				}
				if flags.Changed("description") {
					opts.Description = &description
				}
				if flags.Changed("priority") {
					opts.Priority = &priority
				}
				if flags.Changed("type") {
					opts.TypeID = &typeID
				}
				if flags.Changed("milestone") {
					opts.MilestoneID = &milestone
				}
				if flags.Changed("card") {
					opts.CardID = &card
				}
				t, err := e.EditTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().Int64Var(&expect, "expect", 0, "expected version (defaults to current)")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority 1..5")
	cmd.Flags().StringVar(&typeID, "type", "", "new task type")
	cmd.Flags().StringVar(&milestone, "milestone", "", "milestone id (empty clears)")
	cmd.Flags().StringVar(&card, "card", "", "card id (empty clears)")
	return cmd
}

func taskTransitionCmd(verb string) *cobra.Command {
	var expect int64
	short := map[string]string{
		"claim":    "Claim an available task",
		"start":    "Start work on a claimed task",
		"pause":    "Pause work, keeping the claim",
		"release":  "Release a claimed task back to the pool",
		"complete": "Complete a claimed task",
	}[verb]
	cmd := &cobra.Command{
		Use:   verb + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TransitionOptions{
					TaskID:          args[0],
					ActorID:         viper.GetString("actor-id"),
					ExpectedVersion: expect,
				}
				if opts.ExpectedVersion == 0 {
					t, err := e.Repo.GetTaskRow(ctx, args[0])
					if err != nil {
						return err
					}
					opts.ExpectedVersion = t.Version
				}
				var (
					t       domain.Task
					results []engine.RuleResult
					err     error
				)
				switch verb {
				case "claim":
					t, results, err = e.Claim(ctx, opts)
				case "start":
					t, results, err = e.StartWork(ctx, opts)
				case "pause":
					t, results, err = e.PauseWork(ctx, opts)
				case "release":
					t, results, err = e.Release(ctx, opts)
				case "complete":
					t, results, err = e.Complete(ctx, opts)
				}
				if err != nil {
					return err
				}
				if err := printJSON(t); err != nil {
					return err
				}
				for _, r := range results {
					if r.Err != nil {
						fmt.Printf("rule %s: %s failed: %v\n", r.RuleID, r.Effect, r.Err)
						continue
					}
					fmt.Printf("rule %s: %s%s\n", r.RuleID, r.Outcome, suffixReason(r))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&expect, "expect", 0, "expected version (defaults to current)")
	return cmd
}

func suffixReason(r engine.RuleResult) string {
	if r.Reason != "" {
		return " (" + r.Reason + ")"
	}
	if r.Effect != "" {
		return " " + r.Effect
	}
	return ""
}

func taskDepCmd() *cobra.Command {
	dep := &cobra.Command{Use: "dep", Short: "Manage task dependencies"}
	dep.AddCommand(&cobra.Command{
		Use:   "add <task-id> <depends-on-task-id>",
		Short: "Add a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddDependency(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "remove <task-id> <depends-on-task-id>",
		Short: "Remove a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteDependency(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deps, err := e.Dependencies(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deps)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Task", "Title", "State"})
				for _, d := range deps {
					tw.AppendRow(table.Row{d.TaskID, d.Title, d.State})
				}
				tw.Render()
				return nil
			})
		},
	})
	return dep
}

func cardCmd() *cobra.Command {
	card := &cobra.Command{Use: "card", Short: "Manage cards"}
	var title string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a card",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCard(ctx, e.Config.Project.ID, title, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	createCmd.Flags().StringVar(&title, "title", "", "card title")
	_ = createCmd.MarkFlagRequired("title")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cards, err := e.Repo.ListCards(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cards)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Ver"})
				for _, c := range cards {
					tw.AppendRow(table.Row{c.ID, c.Title, c.Status, c.Version})
				}
				tw.Render()
				return nil
			})
		},
	}

	var expect int64
	statusCmd := &cobra.Command{
		Use:   "status <card-id> <new-state>",
		Short: "Move a card: open, in_review, done, archived",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CardTransitionOptions{
					CardID:          args[0],
					ActorID:         viper.GetString("actor-id"),
					ExpectedVersion: expect,
					NewStatus:       args[1],
				}
				if opts.ExpectedVersion == 0 {
					c, err := e.Repo.GetCard(ctx, args[0])
					if err != nil {
						return err
					}
					opts.ExpectedVersion = c.Version
				}
				c, results, err := e.SetCardStatus(ctx, opts)
				if err != nil {
					return err
				}
				if err := printJSON(c); err != nil {
					return err
				}
				for _, r := range results {
					fmt.Printf("rule %s: %s%s\n", r.RuleID, r.Outcome, suffixReason(r))
				}
				return nil
			})
		},
	}
	statusCmd.Flags().Int64Var(&expect, "expect", 0, "expected version (defaults to current)")

	card.AddCommand(createCmd)
	card.AddCommand(listCmd)
	card.AddCommand(statusCmd)
	return card
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage automation workflows"}
	var name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow (active by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkflow(ctx, engine.WorkflowCreateOptions{
					ProjectID: e.Config.Project.ID,
					Name:      name,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(w)
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "workflow name")
	_ = createCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workflows, err := e.Repo.ListWorkflows(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(workflows)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Active"})
				for _, w := range workflows {
					tw.AppendRow(table.Row{w.ID, w.Name, w.Active})
				}
				tw.Render()
				return nil
			})
		},
	}

	wf.AddCommand(createCmd)
	wf.AddCommand(listCmd)
	wf.AddCommand(workflowToggleCmd("enable", true))
	wf.AddCommand(workflowToggleCmd("disable", false))
	wf.AddCommand(&cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "Delete a workflow and its rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteWorkflow(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	})
	return wf
}

func workflowToggleCmd(verb string, active bool) *cobra.Command {
	short := "Disable a workflow and all of its rules"
	if active {
		short = "Enable a workflow and all of its rules"
	}
	return &cobra.Command{
		Use:   verb + " <workflow-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetWorkflowActive(ctx, args[0], viper.GetString("actor-id"), active)
			})
		},
	}
}

func ruleCmd() *cobra.Command {
	rc := &cobra.Command{Use: "rule", Short: "Manage automation rules"}
	var opts engine.RuleCreateOptions
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule inside a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = viper.GetString("actor-id")
				rl, err := e.CreateRule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rl)
			})
		},
	}
	createCmd.Flags().StringVar(&opts.WorkflowID, "workflow", "", "owning workflow id")
	createCmd.Flags().StringVar(&opts.Name, "name", "", "rule name")
	createCmd.Flags().StringVar(&opts.ResourceType, "resource", "task", "resource type: task or card")
	createCmd.Flags().StringVar(&opts.TaskTypeID, "task-type", "", "task type filter (task rules only)")
	createCmd.Flags().StringVar(&opts.TargetState, "state", "", "target state that fires the rule")
	createCmd.Flags().StringVar(&opts.Action, "action", "", "action from the project catalog")
	_ = createCmd.MarkFlagRequired("workflow")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("state")
	_ = createCmd.MarkFlagRequired("action")

	var workflowID string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rules, err := e.Repo.ListRulesForWorkflow(ctx, workflowID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rules)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Resource", "Type", "State", "Action", "Active"})
				for _, rl := range rules {
					typeFilter := ""
					if rl.TaskTypeID != nil {
						typeFilter = *rl.TaskTypeID
					}
					tw.AppendRow(table.Row{rl.ID, rl.Name, rl.ResourceType, typeFilter, rl.TargetState, rl.Action, rl.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	_ = listCmd.MarkFlagRequired("workflow")

	rc.AddCommand(createCmd)
	rc.AddCommand(listCmd)
	rc.AddCommand(ruleToggleCmd("enable", true))
	rc.AddCommand(ruleToggleCmd("disable", false))
	return rc
}

func ruleToggleCmd(verb string, active bool) *cobra.Command {
	short := "Disable a single rule"
	if active {
		short = "Enable a single rule"
	}
	return &cobra.Command{
		Use:   verb + " <rule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetRuleActive(ctx, args[0], viper.GetString("actor-id"), active)
			})
		},
	}
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Event log"}
	var limit int
	var evtType, entityKind, entityID string
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, limit, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tailCmd.Flags().IntVar(&limit, "limit", 20, "max events")
	tailCmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	tailCmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	tailCmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	lc.AddCommand(tailCmd)
	return lc
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "tb_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Println(secret)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "key label")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	ak.AddCommand(createCmd)
	ak.AddCommand(listCmd)
	ak.AddCommand(revokeCmd)
	return ak
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TASKBOARD_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TASKBOARD_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			server.StartWebhookDispatcher(cmd.Context(), e)
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskboard API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8675", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

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
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), viper.GetString("actor-id"), r)
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
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
