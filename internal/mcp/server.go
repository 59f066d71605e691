package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sathlab/medq/internal/corpus"
	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/orchestrator"
)

// Responder answers one routed question. *orchestrator.Orchestrator
// satisfies it.
type Responder interface {
	Respond(ctx context.Context, sessionID, question string) (orchestrator.Result, error)
}

// Retriever runs a raw similarity search over the corpus.
// *rag.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]corpus.Passage, error)
}

// WikiSearcher looks a topic up on Wikipedia. *wiki.Client satisfies it.
type WikiSearcher interface {
	Search(ctx context.Context, question string) (string, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name      string
	Version   string
	Responder Responder
	Retriever Retriever
	Wiki      WikiSearcher
	Logger    log.Logger
}

// Server wraps the MCP SDK server around the assistant's collaborators.
type Server struct {
	mcpServer *mcp.Server
	responder Responder
	retriever Retriever
	wiki      WikiSearcher
	logger    log.Logger
	name      string
	version   string
}

// NewServer creates an MCP server with all tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, errors.New("server name is required")
	}
	if cfg.Version == "" {
		return nil, errors.New("server version is required")
	}
	if cfg.Responder == nil {
		return nil, errors.New("responder is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Wiki == nil {
		return nil, errors.New("wiki searcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		responder: cfg.Responder,
		retriever: cfg.Retriever,
		wiki:      cfg.Wiki,
		logger:    logger,
		name:      cfg.Name,
		version:   cfg.Version,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

// Run serves the MCP protocol on the given transport until ctx is canceled.
// Blocking; `medq mcp` passes a stdio transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("MCP server running", "name", s.name, "version", s.version)
	return s.mcpServer.Run(ctx, transport)
}
