package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/browseflow/internal/logging"
	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

var runCmd = &cobra.Command{
	Use:   "run GOAL",
	Short: "Run one goal from the terminal",
	Long: `Run a single workflow toward GOAL, printing every event as a JSON line.

When the workflow asks for input the prompt is shown and one line is read
from stdin. A line that is a JSON object is submitted as is; anything else
is submitted as {"url": line} when it looks like an address and as
{"answer": line} otherwise.

Examples:
  browseflow run "open example.com"
  browseflow run "open example.com then click #more" --log-level debug`,
	Args: cobra.ExactArgs(1),
	RunE: runGoal,
}

var runSession string

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runSession, "session", "cli", "session id for the run")
}

// printSink writes each message as one JSON line.
type printSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *printSink) Emit(_ context.Context, msg message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(msg)
}

func runGoal(c *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := &printSink{enc: json.NewEncoder(c.OutOrStdout())}
	id := a.manager.Create(ctx, runSession, args[0], sink)
	defer a.manager.Cleanup(context.Background(), id)

	in := bufio.NewReader(c.InOrStdin())
	res, err := a.manager.Execute(ctx, id, sink)
	for err == nil && res.Outcome == browseflow.OutcomeSuspended {
		var input map[string]any
		input, err = readInput(in, c.ErrOrStderr())
		if err != nil {
			return err
		}
		res, err = a.manager.SubmitInput(ctx, id, input, sink)
	}
	if err != nil {
		return err
	}
	if res.Outcome != browseflow.OutcomeCompleted {
		return fmt.Errorf("workflow %s ended %s", id, res.Outcome)
	}
	return nil
}

func readInput(r *bufio.Reader, prompt io.Writer) (map[string]any, error) {
	fmt.Fprint(prompt, "input> ")
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return parseInput(line), nil
}

// parseInput turns one line of terminal input into a user_input payload.
func parseInput(line string) map[string]any {
	line = strings.TrimSpace(line)
	var obj map[string]any
	if strings.HasPrefix(line, "{") && json.Unmarshal([]byte(line), &obj) == nil {
		return obj
	}
	if !strings.ContainsAny(line, " \t") && (strings.Contains(line, ".") || strings.Contains(line, "://")) {
		return map[string]any{"url": line}
	}
	return map[string]any{"answer": line}
}
