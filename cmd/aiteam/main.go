package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/aiteam/internal/config"
	"github.com/stellarlinkco/aiteam/internal/dialogue"
	"github.com/stellarlinkco/aiteam/internal/dispatch"
	"github.com/stellarlinkco/aiteam/internal/gateway"
	"github.com/stellarlinkco/aiteam/internal/memory"
	"github.com/stellarlinkco/aiteam/internal/persona"
	"github.com/stellarlinkco/aiteam/internal/workflow"
)

// Options injects dependencies for tests.
type Options struct {
	Core   gateway.Options
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

func cmdOptions(cmd *cobra.Command) Options {
	return Options{Core: coreOptions, Stdin: cmd.InOrStdin(), Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
}

var rootCmd = &cobra.Command{
	Use:   "aiteam",
	Short: "aiteam - multi-agent orchestrator with persistent memory",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to one agent, single message or REPL",
	RunE:  runChat,
}

var runCmd = &cobra.Command{
	Use:   "run <verb> [args...]",
	Short: "Run one workflow directive and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWorkflow,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (telegram + dispatcher + cron health checks)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and personas directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aiteam status",
	RunE:  runStatus,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the team",
	RunE:  runAgents,
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or manage persistent memory",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the compiled system prompt",
	RunE:  runMemoryShow,
}

var memoryResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset memory to defaults",
	RunE:  runMemoryReset,
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a memory document from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryImport,
}

// coreOptions is replaced by tests to inject the store and backends.
var coreOptions gateway.Options

var (
	messageFlag string
	agentFlag   string
	pingFlag    bool
	forceFlag   bool
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "Agent ID or codename (default from config)")
	statusCmd.Flags().BoolVar(&pingFlag, "ping", false, "Probe the model backend")
	memoryImportCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite existing memory")
	memoryCmd.AddCommand(memoryShowCmd, memoryResetCmd, memoryImportCmd)
	rootCmd.AddCommand(chatCmd, runCmd, gatewayCmd, onboardCmd, statusCmd, agentsCmd, memoryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openCore(ctx context.Context, opts gateway.Options) (*gateway.Core, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return gateway.NewCore(ctx, cfg, opts)
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(cmdOptions(cmd), agentFlag, messageFlag)
}

// runChatWithOptions sends message to agent, or runs a REPL when message is
// empty. The REPL understands /clear and /agent <id>.
func runChatWithOptions(opts Options, agent, message string) error {
	opts = opts.withDefaults()
	ctx := context.Background()

	core, err := openCore(ctx, opts.Core)
	if err != nil {
		return err
	}
	defer core.Close()

	if agent == "" {
		agent = core.DefaultAgent
	}
	p, err := core.Personas.Resolve(agent)
	if err != nil {
		return err
	}

	if message != "" {
		reply, err := core.Session.Send(ctx, p.ID, message)
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		fmt.Fprintln(opts.Stdout, reply.Text)
		return nil
	}

	fmt.Fprintln(opts.Stdout, "aiteam chat (type 'exit' to quit, /agent <id> to switch, /clear to reset)")
	if err := greet(ctx, core, p, opts.Stdout); err != nil {
		return err
	}

	scanner := bufio.NewScanner(opts.Stdin)
	for {
		fmt.Fprintf(opts.Stdout, "\n[%s]> ", p.Codename)
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit":
			return nil
		case input == "/clear":
			if err := core.Session.Clear(ctx, p.ID); err != nil {
				fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
				continue
			}
			if err := greet(ctx, core, p, opts.Stdout); err != nil {
				fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
			}
			continue
		case strings.HasPrefix(input, "/agent"):
			next, err := core.Personas.Resolve(strings.TrimSpace(strings.TrimPrefix(input, "/agent")))
			if err != nil {
				fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
				continue
			}
			p = next
			if err := greet(ctx, core, p, opts.Stdout); err != nil {
				fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
			}
			continue
		}

		reply, err := core.Session.Send(ctx, p.ID, input)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(opts.Stdout, reply.Text)
	}
	return scanner.Err()
}

// greet opens the agent's transcript and prints its latest agent message.
func greet(ctx context.Context, core *gateway.Core, p persona.Persona, w io.Writer) error {
	msgs, err := core.Session.Open(ctx, p.ID)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Speaker == dialogue.RoleAgent {
			fmt.Fprintf(w, "%s: %s\n", p.Codename, msgs[i].Text)
			break
		}
	}
	return nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	return runWorkflowWithOptions(cmdOptions(cmd), args)
}

func runWorkflowWithOptions(opts Options, args []string) error {
	opts = opts.withDefaults()
	ctx := context.Background()

	coreOpts := opts.Core
	coreOpts.Relay = func(_ dispatch.Origin, e workflow.LogEntry) {
		fmt.Fprintf(opts.Stderr, "[%s] %s\n", e.Source, e.Message)
	}
	core, err := openCore(ctx, coreOpts)
	if err != nil {
		return err
	}
	defer core.Close()

	res := core.Dispatcher.Dispatch(ctx, dispatch.Command{
		Verb:   args[0],
		Arg:    strings.Join(args[1:], " "),
		Origin: dispatch.Origin{Channel: "cli", ChatID: "local"},
	})
	fmt.Fprintln(opts.Stdout, res.Reply())

	switch res.Status {
	case dispatch.StatusFailed, dispatch.StatusUnknown, dispatch.StatusInvalid, dispatch.StatusBusy:
		if res.Err != nil {
			return fmt.Errorf("/%s: %w", res.Verb, res.Err)
		}
		return fmt.Errorf("/%s: %s", res.Verb, res.Status)
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir := cfg.PersonasDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create personas dir: %w", err)
	}
	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	writeIfNotExists(out, filepath.Join(dir, "example.md.disabled"), examplePersonaMD)

	fmt.Fprintf(out, "Personas: %s\n", dir)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set AITEAM_API_KEY environment variable")
	fmt.Fprintln(out, "  3. Run 'aiteam chat -m \"Hello\"' to test")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runStatusWithOptions(cmdOptions(cmd), pingFlag)
}

func runStatusWithOptions(opts Options, ping bool) error {
	opts = opts.withDefaults()
	out := opts.Stdout

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(out, "Default agent: %s\n", cfg.Dialogue.DefaultAgent)
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Fprintf(out, "Memory store: %s (%s)\n", cfg.Memory.Backend, cfg.MemoryPath())

	ctx := context.Background()
	core, err := gateway.NewCore(ctx, cfg, opts.Core)
	if err != nil {
		fmt.Fprintf(out, "Memory: error (%v)\n", err)
		return nil
	}
	defer core.Close()
	fmt.Fprintf(out, "Memory: %s\n", core.Memory.Stats())

	if agents, err := core.Session.Agents(ctx); err != nil {
		fmt.Fprintf(out, "Transcripts: error (%v)\n", err)
	} else if len(agents) > 0 {
		fmt.Fprintf(out, "Transcripts: %s\n", strings.Join(agents, ", "))
	}

	if ping {
		if core.Backend == nil && core.BackendErr != nil {
			fmt.Fprintf(out, "Backend: %v\n", core.BackendErr)
			return nil
		}
		if online, err := core.Health.Check(ctx); online {
			fmt.Fprintln(out, "Backend: ONLINE")
		} else {
			fmt.Fprintf(out, "Backend: OFFLINE (%v)\n", err)
		}
	}
	return nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := persona.Load(cfg.PersonasDir())
	if err != nil {
		return err
	}
	def, _ := reg.Resolve(cfg.Dialogue.DefaultAgent)
	for _, p := range reg.List() {
		mark := " "
		if p.ID == def.ID {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s  %-12s %s\n", mark, p.ID, p.Codename, p.Role)
	}
	return nil
}

func runMemoryShow(cmd *cobra.Command, args []string) error {
	return withCore(cmd, func(ctx context.Context, core *gateway.Core, out io.Writer) error {
		fmt.Fprintln(out, core.Memory.SystemPrompt())
		return nil
	})
}

func runMemoryReset(cmd *cobra.Command, args []string) error {
	return withCore(cmd, func(ctx context.Context, core *gateway.Core, out io.Writer) error {
		if err := core.Memory.Reset(ctx); err != nil {
			return fmt.Errorf("reset memory: %w", err)
		}
		fmt.Fprintln(out, "Memory reset to defaults.")
		return nil
	})
}

func runMemoryImport(cmd *cobra.Command, args []string) error {
	return withCore(cmd, func(ctx context.Context, core *gateway.Core, out io.Writer) error {
		err := memory.ImportFile(ctx, core.Memory, args[0], forceFlag)
		if errors.Is(err, memory.ErrMemoryExists) {
			return fmt.Errorf("%w; use --force to overwrite", err)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %s: %s\n", args[0], core.Memory.Stats())
		return nil
	})
}

func withCore(cmd *cobra.Command, fn func(context.Context, *gateway.Core, io.Writer) error) error {
	ctx := context.Background()
	core, err := openCore(ctx, coreOptions)
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(ctx, core, cmd.OutOrStdout())
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func writeIfNotExists(w io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(w, "  Created: %s\n", path)
	}
}

const examplePersonaMD = `---
id: AGT-001
codename: Finisher
displayName: Finisher
role: task execution lead
quirk: Answers in three steps
---
Rename this file to end in .md to override AGT-001's system prompt.
The body below the front-matter replaces the built-in prompt.
`
