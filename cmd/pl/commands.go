package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/app"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
	"planline/internal/tools"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectRegisterCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Root", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.RootPath, ago(p.UpdatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectRegisterCmd() *cobra.Command {
	var name, root string
	cmd := &cobra.Command{
		Use:   "register <id>",
		Short: "Register a project or refresh its name and root path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, created, err := rt.Engine.RegisterProject(ctx, engine.RegisterProjectOptions{ID: args[0], Name: name, RootPath: root, Actor: actor()})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "created": created})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&root, "root", "", "project root path")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Project overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				projectID, err := activeProject(ctx, rt)
				if err != nil {
					return err
				}
				pc, err := rt.Engine.GetProjectContext(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(pc)
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Stories per epic with progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				projectID, err := activeProject(ctx, rt)
				if err != nil {
					return err
				}
				st, err := rt.Engine.GetSprintStatus(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := newTable(table.Row{"Epic", "Story", "Title", "Status", "Progress"})
				for _, ep := range st.Epics {
					for _, s := range ep.Stories {
						tw.AppendRow(table.Row{fmt.Sprintf("%d %s", ep.Number, ep.Title), s.Key, s.Title, s.Status, progress(s.Progress)})
					}
				}
				for _, s := range st.Unassigned {
					tw.AppendRow(table.Row{"-", s.Key, s.Title, s.Status, progress(s.Progress)})
				}
				tw.AppendFooter(table.Row{"", "", "", "total", humanize.Comma(int64(st.TotalStories))})
				tw.Render()
				return nil
			})
		},
	}
}

func storyCmd() *cobra.Command {
	s := &cobra.Command{Use: "story", Short: "Read and edit stories"}
	s.AddCommand(storyListCmd())
	s.AddCommand(storyShowCmd())
	s.AddCommand(storyUpdateCmd())
	s.AddCommand(storyNoteCmd())
	return s
}

func storyListCmd() *cobra.Command {
	var epic, limit int
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				projectID, err := activeProject(ctx, rt)
				if err != nil {
					return err
				}
				f := repo.StoryFilters{ProjectID: projectID, Status: status, Limit: limit}
				if epic > 0 {
					f.EpicID = repo.EpicID(projectID, epic)
				}
				items, err := rt.Engine.ListStories(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Title", "Status", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, s.Status, ago(s.UpdatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&epic, "epic", 0, "epic number filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum stories")
	return cmd
}

func storyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <story-id>",
		Short: "Story with its task tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				sc, err := rt.Engine.GetStoryContext(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sc)
				}
				fmt.Printf("%s  %s [%s]  %s\n", sc.Story.ID, sc.Story.Title, sc.Story.Status, progress(sc.Progress))
				fmt.Printf("version token %s\n\n", sc.Story.UpdatedAt)
				held := map[int]domain.Reservation{}
				for _, r := range sc.Leases {
					held[r.TaskIdx] = r
				}
				for _, t := range sc.Tasks {
					line := fmt.Sprintf("%s %d. %s", checkbox(t.Done), t.Idx, t.Description)
					if t.IsReviewFollowup {
						line += fmt.Sprintf(" (review, %s)", t.Severity)
					}
					if r, ok := held[t.Idx]; ok {
						line += fmt.Sprintf("  <- %s, expires %s", r.Agent, ago(r.ExpiresAt))
					}
					fmt.Println(line)
					for _, st := range t.Subtasks {
						fmt.Printf("    %s %d.%d %s\n", checkbox(st.Done), t.Idx, st.Idx, st.Description)
					}
				}
				return nil
			})
		},
	}
}

func storyUpdateCmd() *cobra.Command {
	var title, description, status, expected string
	var criteria []string
	cmd := &cobra.Command{
		Use:   "update <story-id>",
		Short: "Change story fields",
		Long:  "Pass --expected with the updated_at you last read; the write fails with a conflict if the story changed since.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := engine.StoryUpdate{StoryID: args[0], ExpectedUpdatedAt: expected, Actor: actor()}
			if cmd.Flags().Changed("title") {
				u.Title = &title
			}
			if cmd.Flags().Changed("description") {
				u.Description = &description
			}
			if cmd.Flags().Changed("status") {
				st := domain.StoryStatus(status)
				u.Status = &st
			}
			if cmd.Flags().Changed("criterion") {
				u.AcceptanceCriteria = parseCriteria(criteria)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.UpdateStory(ctx, u)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringArrayVar(&criteria, "criterion", nil, "acceptance criterion, prefix with [x] when met (repeatable, replaces the list)")
	cmd.Flags().StringVar(&expected, "expected", "", "expected updated_at version token")
	return cmd
}

// parseCriteria reads "[x] text" as a met criterion and "[ ] text" or plain text as unmet.
func parseCriteria(in []string) []domain.AcceptanceCriterion {
	out := make([]domain.AcceptanceCriterion, 0, len(in))
	for _, raw := range in {
		c := domain.AcceptanceCriterion{Criterion: strings.TrimSpace(raw)}
		switch {
		case strings.HasPrefix(strings.ToLower(c.Criterion), "[x]"):
			c.Met = true
			c.Criterion = strings.TrimSpace(c.Criterion[3:])
		case strings.HasPrefix(c.Criterion, "[ ]"):
			c.Criterion = strings.TrimSpace(c.Criterion[3:])
		}
		out = append(out, c)
	}
	return out
}

func storyNoteCmd() *cobra.Command {
	var section, expected string
	cmd := &cobra.Command{
		Use:   "note <story-id> <text>",
		Short: "Append a dev note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.AddDevNote(ctx, args[0], args[1], section, expected, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "implementation, decisions, issues or general")
	cmd.Flags().StringVar(&expected, "expected", "", "expected updated_at version token")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Complete and reserve tasks",
		Long:  "Root tasks are addressed by story id and 1-based index. Only root tasks can be reserved.",
	}
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskReserveCmd())
	task.AddCommand(taskReleaseCmd())
	task.AddCommand(taskLeasesCmd())
	return task
}

func taskDoneCmd() *cobra.Command {
	var subtask int
	var note string
	cmd := &cobra.Command{
		Use:   "done <story-id> <idx>",
		Short: "Mark a task or subtask done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIdx(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.CompleteTask(ctx, engine.CompleteTaskOptions{StoryID: args[0], TaskIdx: idx, SubtaskIdx: subtask, Note: note, Actor: actor()})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&subtask, "subtask", 0, "subtask index")
	cmd.Flags().StringVar(&note, "note", "", "changelog entry")
	return cmd
}

func taskReserveCmd() *cobra.Command {
	var ttl int
	cmd := &cobra.Command{
		Use:   "reserve <story-id> <idx>",
		Short: "Claim or renew a task lease for --actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIdx(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.ReserveTask(ctx, engine.ReserveOptions{StoryID: args[0], TaskIdx: idx, Agent: actor(), TTLSeconds: ttl})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 0, "lease seconds (default from config)")
	return cmd
}

func taskReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <story-id> <idx>",
		Short: "Release a task lease held by --actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIdx(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				released, err := rt.Engine.ReleaseTask(ctx, args[0], idx, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"released": released})
			})
		},
	}
}

func taskLeasesCmd() *cobra.Command {
	var storyID, agent string
	cmd := &cobra.Command{
		Use:   "leases",
		Short: "List live reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				f := repo.ReservationFilters{StoryID: storyID, Agent: agent}
				if storyID == "" {
					projectID, err := activeProject(ctx, rt)
					if err != nil {
						return err
					}
					f.ProjectID = projectID
				}
				items, err := rt.Engine.ListReservations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Story", "Task", "Agent", "Expires"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.StoryID, r.TaskIdx, r.Agent, ago(r.ExpiresAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&storyID, "story", "", "story filter")
	cmd.Flags().StringVar(&agent, "agent", "", "agent filter")
	return cmd
}

// versionTarget resolves "epic <n>", "story <id>" or "doc <type>" to the
// matching engine calls.
type versionTarget struct {
	snapshot func(ctx context.Context, label string) (domain.VersionInfo, error)
	list     func(ctx context.Context) ([]domain.VersionInfo, error)
	switchTo func(ctx context.Context, label string) (engine.WriteResult, error)
}

func resolveVersionTarget(ctx context.Context, rt *app.Runtime, kind, target string) (versionTarget, error) {
	e := rt.Engine
	switch kind {
	case "story":
		return versionTarget{
			snapshot: func(ctx context.Context, label string) (domain.VersionInfo, error) {
				return e.SnapshotStory(ctx, target, label, actor())
			},
			list: func(ctx context.Context) ([]domain.VersionInfo, error) { return e.ListStoryVersions(ctx, target) },
			switchTo: func(ctx context.Context, label string) (engine.WriteResult, error) {
				return e.SwitchStoryVersion(ctx, target, label, actor())
			},
		}, nil
	case "epic", "doc":
		projectID, err := activeProject(ctx, rt)
		if err != nil {
			return versionTarget{}, err
		}
		if kind == "doc" {
			k := engine.DocKey{ProjectID: projectID, Type: target}
			return versionTarget{
				snapshot: func(ctx context.Context, label string) (domain.VersionInfo, error) {
					return e.SnapshotPlanningDoc(ctx, k, label, actor())
				},
				list: func(ctx context.Context) ([]domain.VersionInfo, error) { return e.ListPlanningDocVersions(ctx, k) },
				switchTo: func(ctx context.Context, label string) (engine.WriteResult, error) {
					return e.SwitchPlanningDocVersion(ctx, k, label, actor())
				},
			}, nil
		}
		n, err := parseIdx(target)
		if err != nil {
			return versionTarget{}, err
		}
		k := engine.EpicKey{ProjectID: projectID, Number: n}
		return versionTarget{
			snapshot: func(ctx context.Context, label string) (domain.VersionInfo, error) {
				return e.SnapshotEpic(ctx, k, label, actor())
			},
			list: func(ctx context.Context) ([]domain.VersionInfo, error) { return e.ListEpicVersions(ctx, k) },
			switchTo: func(ctx context.Context, label string) (engine.WriteResult, error) {
				return e.SwitchEpicVersion(ctx, k, label, actor())
			},
		}, nil
	default:
		return versionTarget{}, fmt.Errorf("unknown kind %q: use epic, story or doc", kind)
	}
}

func versionCmd() *cobra.Command {
	v := &cobra.Command{
		Use:   "version",
		Short: "Snapshot and restore epics, stories and planning docs",
		Long:  "Targets are 'epic <number>', 'story <story-id>' or 'doc <type>'. Labels are unique per target and never overwritten.",
	}
	v.AddCommand(&cobra.Command{
		Use:   "snapshot <epic|story|doc> <target> <label>",
		Short: "Store the current state under a label",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				vt, err := resolveVersionTarget(ctx, rt, args[0], args[1])
				if err != nil {
					return err
				}
				info, err := vt.snapshot(ctx, args[2])
				if err != nil {
					return err
				}
				return printJSONOrTable(info)
			})
		},
	})
	v.AddCommand(&cobra.Command{
		Use:   "list <epic|story|doc> <target>",
		Short: "List versions, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				vt, err := resolveVersionTarget(ctx, rt, args[0], args[1])
				if err != nil {
					return err
				}
				items, err := vt.list(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Version", "Created"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Version, ago(it.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	})
	v.AddCommand(&cobra.Command{
		Use:   "switch <epic|story|doc> <target> <label>",
		Short: "Restore the target from a version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				vt, err := resolveVersionTarget(ctx, rt, args[0], args[1])
				if err != nil {
					return err
				}
				res, err := vt.switchTo(ctx, args[2])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	})
	return v
}

func docCmd() *cobra.Command {
	d := &cobra.Command{Use: "doc", Short: "Read and write planning docs"}
	var format string
	show := &cobra.Command{
		Use:   "show <type>",
		Short: "Print a planning doc",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				projectID, err := activeProject(ctx, rt)
				if err != nil {
					return err
				}
				doc, err := rt.Engine.GetPlanningDoc(ctx, projectID, args[0], format)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				if !doc.Exists {
					fmt.Printf("no %s document yet\n", args[0])
					return nil
				}
				fmt.Printf("# %s (version token %s, %s)\n\n", doc.Type, doc.UpdatedAt, humanize.Bytes(uint64(len(doc.Content))))
				if format == "summary" {
					fmt.Println(doc.Summary)
				} else {
					fmt.Println(doc.Content)
				}
				return nil
			})
		},
	}
	show.Flags().StringVar(&format, "format", "full", "full or summary")

	var file, expected string
	var summary bool
	put := &cobra.Command{
		Use:   "put <type>",
		Short: "Replace a planning doc from --file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(file)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				projectID, err := activeProject(ctx, rt)
				if err != nil {
					return err
				}
				res, err := rt.Engine.UpdatePlanningDoc(ctx, engine.UpdatePlanningDocOptions{
					ProjectID: projectID, Type: args[0], Content: content, GenerateSummary: summary, ExpectedUpdatedAt: expected, Actor: actor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	put.Flags().StringVar(&file, "file", "-", "content file, - for stdin")
	put.Flags().StringVar(&expected, "expected", "", "expected updated_at version token")
	put.Flags().BoolVar(&summary, "summary", false, "regenerate the stored summary")
	d.AddCommand(show, put)
	return d
}

func toolCmd() *cobra.Command {
	t := &cobra.Command{Use: "tool", Short: "Inspect and call agent tools"}
	t.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				reg := tools.New(rt.Engine, tools.WithLogger(rt.Log))
				if viper.GetBool("json") {
					return printJSON(reg.List())
				}
				tw := newTable(table.Row{"Tool", "Description"})
				for _, tl := range reg.List() {
					tw.AppendRow(table.Row{tl.Name, tl.Description})
				}
				tw.Render()
				return nil
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "call <name> [json-args]",
		Short: "Call a tool and print its result envelope",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := json.RawMessage("{}")
			if len(args) == 2 {
				raw = json.RawMessage(args[1])
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				reg := tools.New(rt.Engine, tools.WithLogger(rt.Log))
				res, err := reg.Call(tools.WithActor(ctx, actor()), args[0], raw)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	})
	return t
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every change: story edits, task completions, leases, snapshots and free-form actions.",
	}
	log.AddCommand(logTailCmd())
	log.AddCommand(logActionCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				projectID, err := activeProject(ctx, rt)
				if err != nil {
					return err
				}
				events, err := rt.Engine.ListEvents(ctx, repo.EventFilters{ProjectID: projectID, Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"#", "When", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, ago(evt.TS), evt.Type, evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func logActionCmd() *cobra.Command {
	var storyID string
	cmd := &cobra.Command{
		Use:   "action <type> <content>",
		Short: "Record a free-form action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				projectID, err := activeProject(ctx, rt)
				if err != nil {
					return err
				}
				id, err := rt.Engine.LogAction(ctx, engine.LogActionOptions{ProjectID: projectID, StoryID: storyID, Type: args[0], Content: args[1], Actor: actor()})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"event_id": id})
			})
		},
	}
	cmd.Flags().StringVar(&storyID, "story", "", "story the action concerns")
	return cmd
}

func parseIdx(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return n, nil
}

func readInput(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\n") + "\n", nil
}

func progress(p domain.Progress) string {
	if p.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d (%d%%)", p.Done, p.Total, p.Done*100/p.Total)
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}
