package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sathlab/medq/internal/session"
)

// Tool names as registered with the protocol.
const (
	ToolMedicalQuery    = "medical_query"
	ToolCorpusSearch    = "corpus_search"
	ToolWikipediaSearch = "wikipedia_search"
)

// QueryInput is the input schema for the medical_query tool.
type QueryInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"Session id for conversational context. Omit to start a new session; reuse the id from a previous result to continue one."`
	Question  string `json:"question" jsonschema:"The medical or general-knowledge question to answer."`
}

// SearchInput is the input schema for the corpus_search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"Search query matched against the indexed document corpus."`
}

// WikiInput is the input schema for the wikipedia_search tool.
type WikiInput struct {
	Query string `json:"query" jsonschema:"Topic to look up on Wikipedia."`
}

type queryOutput struct {
	SessionID string `json:"sessionId"`
	Route     string `json:"route"`
	Answer    string `json:"answer"`
}

type passageOutput struct {
	Source     string  `json:"source"`
	Chunk      int     `json:"chunk"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

type searchOutput struct {
	Query       string          `json:"query"`
	ResultCount int             `json:"resultCount"`
	Passages    []passageOutput `json:"passages"`
}

// registerTools registers all assistant tools to the MCP server.
func (s *Server) registerTools() error {
	querySchema, err := jsonschema.For[QueryInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolMedicalQuery, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolMedicalQuery,
		Description: "Answer a medical or general-knowledge question. Routes the question " +
			"to a private medical document corpus or to Wikipedia, keeps conversational " +
			"context per session, and returns the answer with the session id for follow-ups.",
		InputSchema: querySchema,
	}, s.MedicalQuery)

	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolCorpusSearch, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolCorpusSearch,
		Description: "Search the indexed medical document corpus using semantic similarity. " +
			"Returns the closest passages with scores; no language model is involved.",
		InputSchema: searchSchema,
	}, s.CorpusSearch)

	wikiSchema, err := jsonschema.For[WikiInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolWikipediaSearch, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolWikipediaSearch,
		Description: "Search Wikipedia and return aggregated article extracts " +
			"for the topic as plain text.",
		InputSchema: wikiSchema,
	}, s.WikipediaSearch)

	return nil
}

// MedicalQuery handles the medical_query MCP tool call.
func (s *Server) MedicalQuery(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, any, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return errorResult("question is required"), nil, nil
	}

	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		sessionID = session.NewID()
	} else {
		id, err := session.NormalizeID(sessionID)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid session id: %v", err)), nil, nil
		}
		sessionID = id
	}

	res, err := s.responder.Respond(ctx, sessionID, question)
	if err != nil {
		s.logger.Error("medical_query failed", "error", err, "session", sessionID)
		return errorResult(err.Error()), nil, nil
	}

	return jsonResult(queryOutput{
		SessionID: sessionID,
		Route:     string(res.Route),
		Answer:    res.Answer,
	}), nil, nil
}

// CorpusSearch handles the corpus_search MCP tool call.
func (s *Server) CorpusSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return errorResult("query is required"), nil, nil
	}

	passages, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		s.logger.Error("corpus_search failed", "error", err)
		return errorResult(err.Error()), nil, nil
	}

	out := searchOutput{
		Query:       query,
		ResultCount: len(passages),
		Passages:    make([]passageOutput, 0, len(passages)),
	}
	for _, p := range passages {
		out.Passages = append(out.Passages, passageOutput{
			Source:     p.Source,
			Chunk:      p.Chunk,
			Similarity: p.Similarity,
			Content:    p.Content,
		})
	}
	return jsonResult(out), nil, nil
}

// WikipediaSearch handles the wikipedia_search MCP tool call.
func (s *Server) WikipediaSearch(ctx context.Context, _ *mcp.CallToolRequest, input WikiInput) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return errorResult("query is required"), nil, nil
	}

	text, err := s.wiki.Search(ctx, query)
	if err != nil {
		s.logger.Error("wikipedia_search failed", "error", err)
		return errorResult(err.Error()), nil, nil
	}
	return textResult(text), nil, nil
}

// textResult builds a plain-text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult builds a tool-level error result. The calling agent sees the
// message and can react; this is not a protocol failure.
func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// jsonResult marshals data into a text tool result. All structured data
// becomes JSON; clients parse it.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.Marshal(data)
	if err != nil {
		return errorResult(fmt.Sprintf("encoding result: %v", err))
	}
	return textResult(string(b))
}
