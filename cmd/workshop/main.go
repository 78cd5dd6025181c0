// Command workshop is the thin CLI entrypoint wiring config, the sandboxed
// tool catalog, and the agent loop into either a local single-session REPL
// or the multi-session HTTP server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/etjones22/workshop/internal/agentloop"
	"github.com/etjones22/workshop/internal/chatprovider"
	"github.com/etjones22/workshop/internal/config"
	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/fsops"
	"github.com/etjones22/workshop/internal/remoteserver"
	"github.com/etjones22/workshop/internal/sandbox"
	"github.com/etjones22/workshop/internal/sessionlog"
	"github.com/etjones22/workshop/internal/summarize"
	"github.com/etjones22/workshop/internal/toolkit"
	"github.com/etjones22/workshop/internal/webtools"
)

func main() {
	root := &cobra.Command{
		Use:   "workshop",
		Short: "workshop — a local-first, tool-using chat assistant",
		Long:  "workshop runs a bounded reason/act agent loop over a sandboxed workspace, either as a local REPL or a multi-session HTTP server.",
	}

	root.AddCommand(initCmd(), chatCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --- workshop init ---

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}
}

// --- workshop chat ---

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run a single local chat session against the sandboxed workspace",
		RunE:  runChat,
	}
	cmd.Flags().Bool("auto-approve", false, "Run writable tools without an interactive confirmation prompt")
	cmd.Flags().String("workspace", "", "Workspace root directory (default: ./workspace)")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	workspaceDir, _ := cmd.Flags().GetString("workspace")
	if workspaceDir == "" {
		workspaceDir = cfg.Sandbox.BaseDir + "/workspace"
	}

	root, err := sandbox.EnsureRoot(workspaceDir)
	if err != nil {
		return err
	}

	logger, err := sessionlog.Open(cfg.Sandbox.BaseDir, time.Now().UTC().Format("20060102T150405.000000000Z"))
	if err != nil {
		return err
	}
	defer logger.Close()

	web := webtools.New(cfg.Search.APIKey)
	client := chatprovider.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, 0)
	doc := summarize.New(client, cfg.LLM.Model, web, root)
	tools := toolkit.Build(root, fsops.NopRecorder{}, web, doc)

	reader := bufio.NewReader(os.Stdin)
	loop := agentloop.New(agentloop.Config{
		Client:      client,
		Model:       cfg.LLM.Model,
		MaxSteps:    cfg.Agent.MaxSteps,
		Tools:       tools,
		AutoApprove: autoApprove,
		Confirm:     confirmFromStdin(reader),
		OnToken:     func(tok string) { fmt.Print(tok) },
		OnAgent:     func(name, content string) { fmt.Fprintf(os.Stderr, "\n[%s] %s\n", name, content) },
		Logger:      logger,
	})

	conv := convo.NewConversation("You are a helpful local assistant with sandboxed filesystem and web tools.")
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Printf("workshop chat — workspace: %s\n", root.Path())
	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		line = trimNewline(line)
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}
		if line == "/reset" {
			conv.Reset("You are a helpful local assistant with sandboxed filesystem and web tools.")
			continue
		}

		// Turn's return value duplicates what OnToken already streamed to
		// stdout above; only the error matters here.
		if _, err := loop.Turn(ctx, conv, line); err != nil {
			fmt.Println()
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println()
	}
}

func confirmFromStdin(reader *bufio.Reader) func(string) bool {
	return func(question string) bool {
		fmt.Printf("\n%s [y/N] ", question)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		line = trimNewline(line)
		return line == "y" || line == "Y"
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// --- workshop serve ---

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the multi-session HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().String("host", "", "Bind host (overrides config)")
	cmd.Flags().Int("port", 0, "Bind port (overrides config)")
	cmd.Flags().String("token", "", "Bearer token required on every endpoint but /health")
	cmd.Flags().Bool("auto-approve", false, "Run writable tools without requiring confirmation")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		cfg.Server.Token = token
	}
	autoApprove, _ := cmd.Flags().GetBool("auto-approve")

	client := chatprovider.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, 0)
	web := webtools.New(cfg.Search.APIKey)

	srv := remoteserver.New(remoteserver.Config{
		Client:      client,
		Model:       cfg.LLM.Model,
		MaxSteps:    cfg.Agent.MaxSteps,
		BaseDir:     cfg.Sandbox.BaseDir,
		Token:       cfg.Server.Token,
		AutoApprove: autoApprove,
		Tools: func(root sandbox.Root) []agentloop.Tool {
			doc := summarize.New(client, cfg.LLM.Model, web, root)
			return toolkit.Build(root, fsops.NopRecorder{}, web, doc)
		},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("workshop serve — listening on %s\n", addr)
	return http.ListenAndServe(addr, srv)
}

// --- shared config loading ---

func loadConfig() (config.Config, error) {
	cfg := config.Default()

	path, err := config.ConfigPath()
	if err == nil {
		fromFile, err := config.LoadFile(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = config.Merge(cfg, fromFile)
	}

	return config.ApplyEnv(cfg, nil), nil
}
