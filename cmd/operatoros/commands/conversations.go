package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/conversation"
	"github.com/biodoia/operatoros/pkg/database"
	"github.com/biodoia/operatoros/pkg/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// RunCmd crea una conversazione e la porta a termine
var RunCmd = &cobra.Command{
	Use:   "run [input]",
	Short: "Create a conversation and run it to completion",
	Long: `Create a conversation with the given input and advance it through
every agent until it completes or a step fails.

The input is read from the argument, or from stdin when the argument is "-".`,
	Example: `  # Run the core pipeline
  operatoros run "Plan the launch of our new analytics product"

  # Custom agent list, YAML summary
  operatoros run --agents analyst,cfo,writer -o yaml "Budget for Q3"

  # Input from stdin
  cat brief.txt | operatoros run --pipeline extended -`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// AdvanceCmd esegue un singolo step
var AdvanceCmd = &cobra.Command{
	Use:   "advance [conversation-id]",
	Short: "Execute the next agent of a conversation",
	Example: `  # Advance with the derived input
  operatoros advance 550e8400-e29b-41d4-a716-446655440000

  # Force a backend and override the input
  operatoros advance <id> --backend anthropic --input "Focus on pricing"`,
	Args: cobra.ExactArgs(1),
	RunE: runAdvance,
}

// HistoryCmd mostra lo storico di una conversazione
var HistoryCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "Show the step history of a conversation",
	Example: `  operatoros history <id>
  operatoros history <id> -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

// ListCmd elenca le conversazioni
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Example: `  operatoros list --status failed
  operatoros list --session s-42 -o yaml`,
	RunE: runList,
}

var (
	runAgents   []string
	runPipeline string
	runSession  string
	runOutput   string

	advanceInput    string
	advanceBackend  string
	advancePriority string

	historyOutput string

	listStatus  string
	listSession string
	listLimit   int
	listOutput  string
)

func init() {
	RunCmd.Flags().StringSliceVarP(&runAgents, "agents", "a", nil, "Comma separated agent roles (overrides --pipeline)")
	RunCmd.Flags().StringVarP(&runPipeline, "pipeline", "p", "", "Predefined pipeline (core, extended, full)")
	RunCmd.Flags().StringVar(&runSession, "session", "", "Opaque session reference")
	RunCmd.Flags().StringVarP(&runOutput, "output", "o", FormatJSON, "Output format (json, yaml)")

	AdvanceCmd.Flags().StringVar(&advanceInput, "input", "", "Override the input of this step")
	AdvanceCmd.Flags().StringVar(&advanceBackend, "backend", "", "Backend tried first")
	AdvanceCmd.Flags().StringVar(&advancePriority, "priority", "normal", "Request priority (low, normal, high)")

	HistoryCmd.Flags().StringVarP(&historyOutput, "output", "o", FormatTable, "Output format (table, json, yaml)")

	ListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (running, completed, failed)")
	ListCmd.Flags().StringVar(&listSession, "session", "", "Filter by session reference")
	ListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of conversations")
	ListCmd.Flags().StringVarP(&listOutput, "output", "o", FormatTable, "Output format (table, json, yaml)")
}

// withApp carica configurazione e componenti ed esegue fn
func withApp(cmd *cobra.Command, probe bool, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, cfg, bootstrapOptions{probe: probe})
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

func readInput(arg string, in io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	input, err := readInput(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	return withApp(cmd, true, func(ctx context.Context, app *App) error {
		pipeline := runPipeline
		if len(runAgents) == 0 && pipeline == "" {
			pipeline = app.Config.Orchestration.DefaultPipeline
		}

		conv, err := app.Manager.Create(ctx, conversation.CreateRequest{
			Input:      input,
			Agents:     runAgents,
			Pipeline:   pipeline,
			SessionRef: runSession,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s: %s\n", conv.ID, strings.Join(conv.AgentList(), " -> "))

		summary, runErr := app.Manager.RunToCompletion(ctx, conv.ID)
		if summary != nil {
			if err := writeOutput(cmd.OutOrStdout(), runOutput, summary); err != nil {
				return err
			}
		}
		return runErr
	})
}

func runAdvance(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	priority, err := agents.ParsePriority(advancePriority)
	if err != nil {
		return err
	}

	return withApp(cmd, true, func(ctx context.Context, app *App) error {
		opts := conversation.AdvanceOptions{Backend: advanceBackend, Priority: priority}
		if cmd.Flags().Changed("input") {
			opts.InputOverride = &advanceInput
		}

		record, err := app.Manager.Advance(ctx, id, opts)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), FormatJSON, record)
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}

	return withApp(cmd, false, func(ctx context.Context, app *App) error {
		steps, err := app.Manager.History(ctx, id)
		if err != nil {
			return err
		}
		if historyOutput != FormatTable {
			return writeOutput(cmd.OutOrStdout(), historyOutput, steps)
		}
		printHistory(cmd.OutOrStdout(), steps)
		return nil
	})
}

func printHistory(out io.Writer, steps []models.StepRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tSTEP\tAGENT\tBACKEND\tTOKENS\tSTATUS\tOUTPUT")
	for _, s := range steps {
		status := "ok"
		text := s.OutputText
		if s.IsError {
			status = "error"
			if s.ErrorDetail != nil {
				text = *s.ErrorDetail
			}
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%s\t%s\n",
			s.Sequence, s.StepIndex, s.AgentRole, s.Backend, s.TotalTokens, status,
			truncate(strings.ReplaceAll(text, "\n", " "), 60))
	}
	_ = w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, false, func(ctx context.Context, app *App) error {
		convs, err := app.Manager.List(ctx, database.ListFilter{
			Status:     models.ConversationStatus(listStatus),
			SessionRef: listSession,
			Limit:      listLimit,
		})
		if err != nil {
			return err
		}
		if listOutput != FormatTable {
			return writeOutput(cmd.OutOrStdout(), listOutput, convs)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSTEP\tERRORS\tTOKENS\tCREATED")
		for _, c := range convs {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%s\n",
				c.ID, c.Status, c.CurrentStep, c.StepsTotal(), c.ErrorCount, c.TotalTokens,
				c.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	})
}

// ExitCode codice di uscita per un errore di dominio
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, conversation.ErrValidation):
		return 2
	case errors.Is(err, conversation.ErrNotFound):
		return 3
	case errors.Is(err, conversation.ErrConversationBusy):
		return 4
	default:
		return 1
	}
}
