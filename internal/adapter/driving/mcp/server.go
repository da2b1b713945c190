// Package mcp exposes the credential vault as MCP tools over stdio.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ericfisherdev/credvault/internal/application"
)

// Tool names.
const (
	ToolSet      = "credentials.set"
	ToolGet      = "credentials.get"
	ToolDelete   = "credentials.delete"
	ToolList     = "credentials.list"
	ToolStatus   = "credentials.status"
	ToolValidate = "credentials.validate"
	ToolClone    = "credentials.clone"
)

// ServerDeps holds the dependencies for creating a VaultServer.
type ServerDeps struct {
	Vault *application.VaultService
	// DefaultUser is used when a tool call omits user_id.
	DefaultUser string
	Version     string
	Logger      *slog.Logger
}

// VaultServer wraps an MCP server with the credential tool handlers.
type VaultServer struct {
	vault       *application.VaultService
	defaultUser string
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewVaultServer creates a VaultServer with all credential tools registered.
func NewVaultServer(deps ServerDeps) *VaultServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &VaultServer{
		vault:       deps.Vault,
		defaultUser: deps.DefaultUser,
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"credvault",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("credvault stores provider API tokens encrypted at rest. Use credentials.set to store a token, credentials.get to confirm one exists (values are always masked), credentials.list and credentials.status to inspect what is stored, credentials.validate to check a token without storing it, credentials.clone to copy a token to another scope, and credentials.delete with confirm=true to remove one."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is canceled or in closes.
func (s *VaultServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, in, out)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *VaultServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *VaultServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: setTool(), Handler: s.handleSet},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: deleteTool(), Handler: s.handleDelete},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: cloneTool(), Handler: s.handleClone},
	}
}

// --- Tool definitions ---

func userIDOption() mcp.ToolOption {
	return mcp.WithString("user_id", mcp.Description("Owner of the credential (defaults to the server's configured user)"))
}

func scopeOption(name, desc string) mcp.ToolOption {
	return mcp.WithString(name, mcp.Description(desc))
}

func setTool() mcp.Tool {
	return mcp.NewTool(ToolSet,
		mcp.WithDescription("Validate and store a provider credential, replacing any existing one at the same scope"),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id, e.g. github, gitlab, openai, anthropic, bitbucket")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The secret token. It is never echoed back")),
		userIDOption(),
		scopeOption("scope", "Optional scope: project:<name> or project:<name>:<environment>; empty for the primary credential"),
		mcp.WithBoolean("skip_live_validation", mcp.Description("Skip the provider API check and store after format validation only")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool(ToolGet,
		mcp.WithDescription("Look up a stored credential; returns a masked value only"),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id")),
		userIDOption(),
		scopeOption("scope", "Optional scope"),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool(ToolDelete,
		mcp.WithDescription("Delete a stored credential. Requires confirm=true"),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id")),
		userIDOption(),
		scopeOption("scope", "Optional scope"),
		mcp.WithBoolean("confirm", mcp.Description("Must be true to actually delete")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool(ToolList,
		mcp.WithDescription("List stored credentials with metadata; never returns secret values"),
		userIDOption(),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool(ToolStatus,
		mcp.WithDescription("Summarize stored credentials per provider"),
		userIDOption(),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool(ToolValidate,
		mcp.WithDescription("Check a credential's format and, where supported, that the provider accepts it. Nothing is stored"),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The secret token")),
		userIDOption(),
		mcp.WithBoolean("skip_live_validation", mcp.Description("Check the format only")),
	)
}

func cloneTool() mcp.Tool {
	return mcp.NewTool(ToolClone,
		mcp.WithDescription("Copy a stored credential to another scope as an independent record"),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id")),
		userIDOption(),
		scopeOption("from_scope", "Source scope; empty for the primary credential"),
		mcp.WithString("to_scope", mcp.Required(), mcp.Description("Destination scope")),
	)
}
