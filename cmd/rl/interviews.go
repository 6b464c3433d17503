package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"readyline/internal/domain"
	"readyline/internal/engine"
	"readyline/internal/engine/scoring"
	"readyline/internal/repo"
)

func interviewCmd() *cobra.Command {
	iv := &cobra.Command{Use: "interview", Short: "Manage interviews"}
	iv.AddCommand(interviewCreateCmd())
	iv.AddCommand(interviewListCmd())
	iv.AddCommand(interviewShowCmd())
	iv.AddCommand(interviewDeleteCmd())
	iv.AddCommand(interviewEnableCmd(true))
	iv.AddCommand(interviewEnableCmd(false))
	iv.AddCommand(interviewProgressCmd())
	iv.AddCommand(interviewResponsesCmd())
	iv.AddCommand(interviewApplicableRolesCmd())
	return iv
}

func interviewCreateCmd() *cobra.Command {
	var opts engine.InterviewCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an interview",
		Long:  "Creates one response per question. Without --role the interview is open to every company role; with --contact it is an individual interview.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompany(cmd.Context(), func(ctx context.Context, e engine.Engine, companyID string) error {
				opts.CompanyID = companyID
				opts.ActorID = viper.GetString("actor-id")
				iv, err := e.CreateInterview(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(iv)
				}
				printInterviews([]domain.Interview{iv})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.QuestionnaireID, "questionnaire", "", "questionnaire id")
	cmd.Flags().StringVar(&opts.AssessmentID, "assessment", "", "assessment id (supplies the questionnaire)")
	cmd.Flags().StringVar(&opts.ContactID, "contact", "", "contact id for an individual interview")
	cmd.Flags().StringSliceVar(&opts.RoleIDs, "role", nil, "company role id (repeatable)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	return cmd
}

func interviewListCmd() *cobra.Command {
	var f repo.InterviewFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List interviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompany(cmd.Context(), func(ctx context.Context, e engine.Engine, companyID string) error {
				f.CompanyID = companyID
				items, err := e.ListInterviews(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printInterviews(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending, in_progress, completed)")
	cmd.Flags().StringVar(&f.ContactID, "contact", "", "contact filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func interviewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				iv, err := e.GetInterview(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(iv)
			})
		},
	}
}

func interviewDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteInterview(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted interview %s\n", args[0])
				return nil
			})
		},
	}
}

func interviewEnableCmd(enabled bool) *cobra.Command {
	use, short := "enable <id>", "Enable an individual interview"
	if !enabled {
		use, short = "disable <id>", "Disable an individual interview"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				iv, err := e.SetInterviewEnabled(ctx, args[0], enabled, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(iv)
				}
				printInterviews([]domain.Interview{iv})
				return nil
			})
		},
	}
}

func interviewProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id>",
		Short: "Show interview progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProgress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := newTable(table.Row{"Interview", "Status", "Answered", "Total", "Progress"})
				tw.AppendRow(table.Row{p.InterviewID, p.Status, p.AnsweredQuestions, p.TotalQuestions, fmt.Sprintf("%d%%", p.ProgressPercentage)})
				tw.Render()
				return nil
			})
		},
	}
}

func interviewResponsesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "responses <id>",
		Short: "List responses in questionnaire order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListResponses(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Question", "Applicable", "Rating", "Source", "Roles"})
				for _, r := range items {
					rating := ""
					switch {
					case r.IsUnknown:
						rating = "unknown"
					case r.RatingScore != nil:
						rating = strconv.FormatFloat(*r.RatingScore, 'f', -1, 64)
					}
					tw.AppendRow(table.Row{r.ID, r.QuestionID, r.IsApplicable, rating, r.ScoreSource, strings.Join(r.RoleIDs, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func interviewApplicableRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "applicable-roles <id> <question-id>",
		Short: "List the roles that may answer a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ListApplicableRoles(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("question %s: applicable=%t universal=%t\n", res.QuestionID, res.Applicable, res.Universal)
				tw := newTable(table.Row{"ID", "Category", "Path"})
				for _, r := range res.Roles {
					tw.AppendRow(table.Row{r.ID, r.RoleCategoryID, strings.Join(r.Path, " / ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func responseCmd() *cobra.Command {
	r := &cobra.Command{Use: "response", Short: "Record answers"}
	r.AddCommand(responseUpdateCmd())
	return r
}

func responseUpdateCmd() *cobra.Command {
	var rating float64
	var unknown, clear bool
	var roles, parts []string
	var comments string
	cmd := &cobra.Command{
		Use:   "update <response-id>",
		Short: "Rate a response, tag roles or answer parts",
		Long: `Examples:
  rl response update <id> --rating 3 --role r-planner
  rl response update <id> --unknown
  rl response update <id> --part q5a=72 --part q5b=true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ResponseUpdateOptions{
				ID:          args[0],
				ClearRating: clear,
				ActorID:     viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("rating") {
				opts.RatingScore = &rating
			}
			if cmd.Flags().Changed("unknown") {
				opts.IsUnknown = &unknown
			}
			if cmd.Flags().Changed("role") {
				opts.RoleIDs = append([]string{}, roles...)
			}
			if cmd.Flags().Changed("comments") {
				opts.Comments = &comments
			}
			answers, err := parsePartAnswers(parts)
			if err != nil {
				return err
			}
			opts.PartAnswers = answers
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resp, err := e.UpdateResponse(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
	cmd.Flags().Float64Var(&rating, "rating", 0, "manual rating")
	cmd.Flags().BoolVar(&unknown, "unknown", false, "mark the answer as unknown")
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the rating")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role tag (repeatable; --role= clears the tags)")
	cmd.Flags().StringArrayVar(&parts, "part", nil, "part answer as part_id=value (repeatable)")
	cmd.Flags().StringVar(&comments, "comments", "", "comments (empty clears)")
	return cmd
}

// parsePartAnswers reads part_id=value pairs. Numbers and booleans keep
// their type; anything else is a label.
func parsePartAnswers(raw []string) ([]scoring.Answer, error) {
	var out []scoring.Answer
	for _, p := range raw {
		id, value, ok := strings.Cut(p, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --part %q; expected part_id=value", p)
		}
		value = strings.TrimSpace(value)
		var v any = value
		switch value {
		case "true", "false":
			v = value == "true"
		default:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				v = f
			}
		}
		out = append(out, scoring.Answer{PartID: id, Value: v})
	}
	return out, nil
}

func printInterviews(items []domain.Interview) {
	tw := newTable(table.Row{"ID", "Questionnaire", "Contact", "Roles", "Status", "Enabled", "Created"})
	for _, iv := range items {
		contact := ""
		if iv.ContactID != nil {
			contact = *iv.ContactID
		}
		tw.AppendRow(table.Row{iv.ID, iv.QuestionnaireID, contact, strings.Join(iv.RoleIDs, ","), iv.Status, iv.Enabled, iv.CreatedAt})
	}
	tw.Render()
}
