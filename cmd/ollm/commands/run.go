package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/opencode-ai/opencode/internal/agent"
	"github.com/opencode-ai/opencode/internal/config"
	ctxmgr "github.com/opencode-ai/opencode/internal/context"
	"github.com/opencode-ai/opencode/internal/executor"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/spf13/cobra"
)

var (
	runModel     string
	runApprove   string
	runSession   string
	runPrompt    string
	runDir       string
	runMaxTokens int
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Start or continue a conversation",
	Long: `Start an interactive conversation through the conversation core.

With a message argument, ollm runs a single turn and exits. Without
one, it reads further turns from stdin, one line at a time, until EOF
or "/exit".

Examples:
  ollm run "fix the bug in main.go"
  ollm run --model anthropic/claude-sonnet-4 --approve auto-approve-safe
  ollm run --session <id> "continue where we left off"`,
	RunE: runConversation,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runApprove, "approve", "always-ask", "Tool approval mode (always-ask|auto-approve-safe|yolo)")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to resume")
	runCmd.Flags().StringVar(&runPrompt, "system-prompt", "", "Custom system prompt (file path or inline text)")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().IntVar(&runMaxTokens, "max-context-tokens", 0, "Active context budget override (0 = runtime default of 8192)")
}

func runConversation(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if model := runModel; model != "" {
		appConfig.Model = model
	} else if global := GetGlobalModel(); global != "" {
		appConfig.Model = global
	}

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	providerID, modelID, err := resolveModel(providerReg, appConfig.Model)
	if err != nil {
		return err
	}
	prov, err := providerReg.Get(providerID)
	if err != nil {
		return fmt.Errorf("resolve provider %q: %w", providerID, err)
	}

	store := storage.New(paths.StoragePath())
	toolReg := tool.DefaultRegistry(workDir, store)

	agentReg := agent.NewRegistry()
	toolReg.RegisterTaskTool(agentReg)

	sessionStore, err := session.NewStore(paths.SessionDataPath())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	toolReg.SetTaskExecutor(executor.NewSubagentExecutor(executor.SubagentExecutorConfig{
		Store:             sessionStore,
		ProviderRegistry:  providerReg,
		ToolRegistry:      toolReg,
		AgentRegistry:     agentReg,
		DefaultProviderID: providerID,
		DefaultModelID:    modelID,
	}))

	mode := tool.Mode(runApprove)
	switch mode {
	case tool.AlwaysAsk, tool.AutoApproveSafe, tool.YOLO:
	default:
		return fmt.Errorf("unknown approval mode %q", runApprove)
	}

	systemPrompt := resolveSystemPrompt(runPrompt)

	var ctxCfg ctxmgr.Config
	if runMaxTokens > 0 {
		ctxCfg = ctxmgr.DefaultConfig(runMaxTokens)
	}

	var rt *session.Runtime
	var sessionID string
	isFresh := runSession == ""
	if !isFresh {
		rt, err = session.NewRuntime(sessionStore, runSession, session.Options{
			Provider:         prov,
			Model:            modelID,
			Tools:            toolReg,
			ApprovalMode:     mode,
			ApprovalCallback: terminalApproval,
			ContextConfig:    ctxCfg,
		})
		if err != nil {
			return fmt.Errorf("resume session %s: %w", runSession, err)
		}
		sessionID = runSession
	} else {
		sessionID, rt, err = session.CreateSession(sessionStore, systemPrompt, session.Options{
			Provider:         prov,
			Model:            modelID,
			Tools:            toolReg,
			ApprovalMode:     mode,
			ApprovalCallback: terminalApproval,
			ContextConfig:    ctxCfg,
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	}

	fmt.Printf("session %s (%s/%s)\n", sessionID, providerID, modelID)

	message := strings.Join(args, " ")
	if message != "" {
		if err := runTurn(ctx, rt, message); err != nil {
			return err
		}
		if isFresh {
			titleSession(ctx, sessionStore, sessionID, prov, modelID, message)
		}
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/exit" {
			break
		}
		if line == "" {
			fmt.Print("> ")
			continue
		}
		firstLine := isFresh
		if err := runTurn(ctx, rt, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else if firstLine {
			titleSession(ctx, sessionStore, sessionID, prov, modelID, line)
			isFresh = false
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

// titleSession generates and records a session title from its opening
// message (SPEC_FULL Part D item 5). Title generation is a convenience, not
// a spec invariant: a provider failure here is logged to stderr and never
// fails the turn that triggered it.
func titleSession(ctx context.Context, store *session.Store, sessionID string, prov provider.Provider, modelID, firstMessage string) {
	title, err := session.GenerateTitle(ctx, prov, modelID, firstMessage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "title generation failed: %v\n", err)
		return
	}
	if err := store.SetTitle(sessionID, title); err != nil {
		fmt.Fprintf(os.Stderr, "set title failed: %v\n", err)
		return
	}
	if err := store.Flush(sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "flush title failed: %v\n", err)
	}
}

func runTurn(ctx context.Context, rt *session.Runtime, message string) error {
	result, err := rt.Turn(ctx, message, nil)
	if err != nil {
		return err
	}
	if result.LoopDetected != nil {
		fmt.Printf("\n[turn aborted: %s loop detected]\n", result.LoopDetected.Type)
		return nil
	}
	fmt.Println(result.FinalText)
	return nil
}

// terminalApproval prompts on stdin/stdout for modifying or dangerous tool
// calls; it is the CLI's implementation of the core's ApprovalCallback,
// the one piece of UI the conversation core itself deliberately does not
// own.
func terminalApproval(ctx context.Context, toolName string, args json.RawMessage, danger tool.DangerLevel) (tool.Decision, error) {
	fmt.Printf("\n[%s] %s wants to run with args: %s\nApprove? (y/N/a=always for this tool) ", danger, toolName, string(args))

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return tool.Approved, nil
	case "a", "always":
		return tool.ApprovedAlwaysForTool, nil
	default:
		return tool.Denied, nil
	}
}

func resolveSystemPrompt(promptOption string) string {
	if promptOption == "" {
		return "You are ollm, an AI coding assistant. Use the available tools to read, search, and modify files as needed to help the user."
	}
	if data, err := os.ReadFile(promptOption); err == nil {
		return string(data)
	}
	return promptOption
}

func resolveModel(reg *provider.Registry, configured string) (providerID, modelID string, err error) {
	if configured != "" {
		parts := strings.SplitN(configured, "/", 2)
		if len(parts) == 2 {
			return parts[0], parts[1], nil
		}
	}
	model, err := reg.DefaultModel()
	if err != nil {
		return "", "", fmt.Errorf("no model configured and no default available: %w", err)
	}
	return model.ProviderID, model.ID, nil
}
