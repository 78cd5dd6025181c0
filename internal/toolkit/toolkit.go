// Package toolkit assembles the fixed tool catalog (sandboxed file I/O,
// the patch engine, web search/fetch, document summarization) into the
// []agentloop.Tool shape the agent loop dispatches by name, so the CLI and
// the remote server build identical per-session tool lists.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/etjones22/workshop/internal/agentloop"
	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/fsops"
	"github.com/etjones22/workshop/internal/patch"
	"github.com/etjones22/workshop/internal/sandbox"
	"github.com/etjones22/workshop/internal/summarize"
	"github.com/etjones22/workshop/internal/webtools"
)

// Build returns the full tool catalog bound to one session's sandbox root,
// web tool set, and document summarizer.
func Build(root sandbox.Root, recorder fsops.Recorder, web *webtools.Tools, doc *summarize.Summarizer) []agentloop.Tool {
	ops := fsops.New(root, recorder)

	return []agentloop.Tool{
		listTool(ops),
		readTool(ops),
		writeTool(ops),
		applyPatchTool(ops),
		webSearchTool(web),
		webFetchTool(web),
		docSummarizeTool(doc),
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string, def bool) bool {
	b, ok := args[key].(bool)
	if !ok {
		return def
	}
	return b
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func jsonResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}

func listTool(ops *fsops.Ops) agentloop.Tool {
	return agentloop.Tool{
		Def: convo.ToolDefinition{
			Name:        "fs_list",
			Description: "List one directory level's entries within the sandboxed workspace.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Directory path relative to the workspace root. Defaults to the root."},
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			entries, err := ops.List(stringArg(args, "path"))
			if err != nil {
				return "", err
			}
			return jsonResult(map[string]any{"entries": entries})
		},
	}
}

func readTool(ops *fsops.Ops) agentloop.Tool {
	return agentloop.Tool{
		Def: convo.ToolDefinition{
			Name:        "fs_read",
			Description: "Read the UTF-8 content of a file within the sandboxed workspace.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "File path relative to the workspace root."},
				},
				"required": []string{"path"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			res, err := ops.Read(stringArg(args, "path"))
			if err != nil {
				return "", err
			}
			return jsonResult(res)
		},
	}
}

func writeTool(ops *fsops.Ops) agentloop.Tool {
	return agentloop.Tool{
		Def: convo.ToolDefinition{
			Name:        "fs_write",
			Description: "Create or overwrite a file within the sandboxed workspace.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string", "description": "File path relative to the workspace root."},
					"content":   map[string]any{"type": "string", "description": "Full file content to write."},
					"overwrite": map[string]any{"type": "boolean", "description": "Allow overwriting an existing file. Defaults to false."},
				},
				"required": []string{"path", "content"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			res, err := ops.Write(stringArg(args, "path"), stringArg(args, "content"), boolArg(args, "overwrite", false))
			if err != nil {
				return "", err
			}
			return jsonResult(res)
		},
	}
}

func applyPatchTool(ops *fsops.Ops) agentloop.Tool {
	return agentloop.Tool{
		Def: convo.ToolDefinition{
			Name:        "fs_apply_patch",
			Description: "Apply an envelope-dialect or unified-diff patch against the sandboxed workspace.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"patch": map[string]any{"type": "string", "description": "The full patch text, in either the envelope or unified-diff dialect."},
				},
				"required": []string{"patch"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			res, err := patch.Apply(ops, stringArg(args, "patch"))
			if err != nil {
				// A mid-batch failure still carries the files changed
				// before the failure point; surface that to the model
				// instead of a bare error.
				if res.Summary != "" {
					return jsonResult(res)
				}
				return "", err
			}
			return jsonResult(res)
		},
	}
}

func webSearchTool(web *webtools.Tools) agentloop.Tool {
	return agentloop.Tool{
		Def: convo.ToolDefinition{
			Name:        "web_search",
			Description: "Search the web and optionally fetch readable text from the top results.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "The search query."},
					"count": map[string]any{"type": "number", "description": "Number of results to return. Defaults to 5."},
					"fetch": map[string]any{"type": "boolean", "description": "Also fetch readable text from top results. Defaults to true."},
				},
				"required": []string{"query"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if web == nil {
				return "", fmt.Errorf("web search is not configured")
			}
			opts := webtools.SearchOptions{
				Count: intArg(args, "count", 0),
				Fetch: boolArg(args, "fetch", true),
			}
			resp, err := web.Search(ctx, stringArg(args, "query"), opts)
			if err != nil {
				return "", err
			}
			return jsonResult(resp)
		},
	}
}

func webFetchTool(web *webtools.Tools) agentloop.Tool {
	return agentloop.Tool{
		Def: convo.ToolDefinition{
			Name:        "web_fetch",
			Description: "Fetch a URL and extract its readable text content.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":      map[string]any{"type": "string", "description": "The URL to fetch."},
					"maxChars": map[string]any{"type": "number", "description": "Maximum characters to return. Defaults to 20000."},
				},
				"required": []string{"url"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if web == nil {
				return "", fmt.Errorf("web fetch is not configured")
			}
			resp, err := web.Fetch(ctx, stringArg(args, "url"), intArg(args, "maxChars", 0))
			if err != nil {
				return "", err
			}
			return jsonResult(resp)
		},
	}
}

func docSummarizeTool(doc *summarize.Summarizer) agentloop.Tool {
	return agentloop.Tool{
		Def: convo.ToolDefinition{
			Name:        "doc_summarize",
			Description: "Summarize a document given as a sandboxed file path or a URL.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source": map[string]any{"type": "string", "description": "A sandboxed file path or an http(s) URL."},
					"style":  map[string]any{"type": "string", "description": "One of brief, detailed, bullets. Defaults to brief."},
					"focus":  map[string]any{"type": "string", "description": "Optional aspect of the document to focus the summary on."},
				},
				"required": []string{"source"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if doc == nil {
				return "", fmt.Errorf("document summarizer is not configured")
			}
			resp := doc.Summarize(ctx, summarize.Request{
				Source: stringArg(args, "source"),
				Style:  summarize.Style(stringArg(args, "style")),
				Focus:  stringArg(args, "focus"),
			})
			return jsonResult(resp)
		},
	}
}
