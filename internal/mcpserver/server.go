// Package mcpserver is the Tool Surface (spec §6): a stdio MCP server
// exposing the five memory operations — store, search, pin, unpin, forget —
// plus the inject prompt. Grounded on go-ports/echovault's
// internal/mcp/server.go: tools are registered against a single backing
// service in NewServer, kept separate from the stdio transport (Serve) so
// tests can exercise a fully wired server without committing to stdin/stdout.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memento-ai/memento/internal/inject"
	"github.com/memento-ai/memento/internal/model"
	registrystore "github.com/memento-ai/memento/internal/registry/store"
	"github.com/memento-ai/memento/internal/retrieval"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	storeDescription = `Store a memory for later recall. Use this whenever you learn something ` +
		`worth remembering across sessions: a decision, a fix, a preference, or a fact about the ` +
		`project. Pick the type that matches how long the memory should matter: working (this ` +
		`task only), episodic (a specific event worth recalling for a while), semantic (a durable ` +
		`fact or decision), procedural (a reusable how-to).`

	searchDescription = `Search stored memories with a blend of keyword and semantic matching, ` +
		`ranked by relevance, recency, importance, and usage. Call this before starting related ` +
		`work to check whether prior context already exists.`

	pinDescription   = `Pin a memory so the forgetting controller never soft- or hard-deletes it.`
	unpinDescription = `Unpin a memory, making it eligible for the forgetting controller again.`

	forgetDescription = `Forget a memory. Soft forget (the default) unpins it and resets its usage ` +
		`counters but keeps the row; hard forget permanently removes it, its embedding, and its links.`

	injectDescription = `Format the most relevant stored memories for a query into a token-budgeted ` +
		`system-context block, ready to paste or splice into a prompt.`
)

// retriever narrows *retrieval.Orchestrator to the one method the search
// tool needs, the same narrowing internal/inject applies to the same
// dependency, so tests can supply a fake instead of a fully wired
// store/vector/embedding stack.
type retriever interface {
	Query(ctx context.Context, queryText string, filter registrystore.Filter, limit int) ([]retrieval.Hit, error)
}

// promptInjector narrows *inject.Injector to the method the inject prompt needs.
type promptInjector interface {
	Inject(ctx context.Context, req inject.Request) (inject.Result, error)
}

// Server owns the Persistence Gateway and the derived components (Hybrid
// Retrieval, the Context Injector) that back the five tools and the inject
// prompt. The Forgetting Controller's sweep runs independently under the
// Scheduler; forget() here only dispatches a single memory's soft/hard
// delete straight to the store.
type Server struct {
	store     registrystore.Store
	retrieval retriever
	injector  promptInjector
}

// New builds a Server over an already-wired store/orchestrator/injector trio.
func New(store registrystore.Store, orchestrator *retrieval.Orchestrator, injector *inject.Injector) *Server {
	return &Server{store: store, retrieval: orchestrator, injector: injector}
}

// NewMCPServer creates and registers all tools and the inject prompt on a
// new mcp-go server instance.
func (s *Server) NewMCPServer(name, version string) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(name, version)
	s.registerTools(srv)
	s.registerPrompts(srv)
	return srv
}

// Serve starts the stdio MCP server, blocking until stdin closes.
func (s *Server) Serve() error {
	return mcpserver.ServeStdio(s.NewMCPServer("memento", "0.1.0"))
}

func (s *Server) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(mcp.NewTool("store",
		mcp.WithDescription(storeDescription),
		mcp.WithString("content", mcp.Description("The memory content."), mcp.Required()),
		mcp.WithString("type", mcp.Description("working|episodic|semantic|procedural (default episodic)."),
			mcp.Enum("working", "episodic", "semantic", "procedural")),
		mcp.WithArray("tags", mcp.Description("Short labels for this memory."), mcp.WithStringItems()),
		mcp.WithNumber("importance", mcp.Description("0..1, default 0.5.")),
		mcp.WithString("source", mcp.Description("Where this memory came from.")),
		mcp.WithString("privacy_scope", mcp.Description("private|team|public (default private)."),
			mcp.Enum("private", "team", "public")),
		mcp.WithString("project", mcp.Description("Owning project, optional.")),
		mcp.WithString("user", mcp.Description("Owning user, optional.")),
		mcp.WithString("agent", mcp.Description("Owning agent, optional.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.handleStore(ctx, req)
	})

	srv.AddTool(mcp.NewTool("search",
		mcp.WithDescription(searchDescription),
		mcp.WithString("query", mcp.Description("Search text."), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10).")),
		mcp.WithArray("type", mcp.Description("Restrict to these memory types."), mcp.WithStringItems()),
		mcp.WithArray("tags", mcp.Description("Require at least one of these tags."), mcp.WithStringItems()),
		mcp.WithNumber("importance_min", mcp.Description("Minimum importance, 0..1.")),
		mcp.WithBoolean("pinned_only", mcp.Description("Restrict to pinned memories.")),
		mcp.WithString("project", mcp.Description("Restrict to a project.")),
		mcp.WithString("user", mcp.Description("Restrict to a user.")),
		mcp.WithString("agent", mcp.Description("Restrict to an agent.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.handleSearch(ctx, req)
	})

	srv.AddTool(mcp.NewTool("pin",
		mcp.WithDescription(pinDescription),
		mcp.WithString("id", mcp.Description("Memory id."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.handlePin(ctx, req)
	})

	srv.AddTool(mcp.NewTool("unpin",
		mcp.WithDescription(unpinDescription),
		mcp.WithString("id", mcp.Description("Memory id."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.handleUnpin(ctx, req)
	})

	srv.AddTool(mcp.NewTool("forget",
		mcp.WithDescription(forgetDescription),
		mcp.WithString("id", mcp.Description("Memory id."), mcp.Required()),
		mcp.WithBoolean("hard", mcp.Description("Permanently delete instead of soft-forgetting (default false).")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.handleForget(ctx, req)
	})
}

func (s *Server) registerPrompts(srv *mcpserver.MCPServer) {
	srv.AddPrompt(mcp.NewPrompt("inject",
		mcp.WithPromptDescription(injectDescription),
		mcp.WithArgument("query", mcp.ArgumentDescription("What the injected context should be relevant to."), mcp.RequiredArgument()),
		mcp.WithArgument("token_budget", mcp.ArgumentDescription("Total token budget for the block (default 1000).")),
		mcp.WithArgument("max_memories", mcp.ArgumentDescription("Max memories to include (default 5).")),
	), s.handleInjectPrompt)
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

func (s *Server) handleStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	if content == "" {
		return mcp.NewToolResultError("content is required"), nil
	}

	typ := model.Type(req.GetString("type", string(model.TypeEpisodic)))
	if !typ.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid type %q", typ)), nil
	}
	scope := model.PrivacyScope(req.GetString("privacy_scope", string(model.PrivacyPrivate)))
	if !scope.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid privacy_scope %q", scope)), nil
	}
	importance := req.GetFloat("importance", 0.5)
	if importance < 0 || importance > 1 {
		return mcp.NewToolResultError("importance must be within 0..1"), nil
	}

	m := &model.Memory{
		ID:           uuid.New(),
		Type:         typ,
		Content:      content,
		Importance:   importance,
		PrivacyScope: scope,
		CreatedAt:    time.Now(),
		Tags:         req.GetStringSlice("tags", nil),
		Source:       req.GetString("source", ""),
		Project:      req.GetString("project", ""),
		User:         req.GetString("user", ""),
		Agent:        req.GetString("agent", ""),
	}

	if err := s.store.CreateMemory(ctx, m); err != nil {
		return toolError(err)
	}

	return jsonResult(map[string]any{
		"memory_id":        m.ID,
		"embedding_queued": true,
	})
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	limit := req.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}

	filter := registrystore.Filter{
		Project:    req.GetString("project", ""),
		User:       req.GetString("user", ""),
		Agent:      req.GetString("agent", ""),
		PinnedOnly: req.GetBool("pinned_only", false),
	}
	for _, t := range req.GetStringSlice("type", nil) {
		filter.Types = append(filter.Types, model.Type(t))
	}

	start := time.Now()
	hits, err := s.retrieval.Query(ctx, query, filter, limit*2)
	if err != nil {
		return toolError(err)
	}

	hits = filterHits(hits, req.GetStringSlice("tags", nil), req.GetFloat("importance_min", 0))
	if len(hits) > limit {
		hits = hits[:limit]
	}

	go s.touchViewCounts(hits)

	items := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		items = append(items, map[string]any{
			"id":            h.Memory.ID,
			"content":       h.Memory.Content,
			"type":          h.Memory.Type,
			"importance":    h.Memory.Importance,
			"created_at":    h.Memory.CreatedAt,
			"last_accessed": h.Memory.LastAccessed,
			"pinned":        h.Memory.Pinned,
			"tags":          h.Memory.Tags,
			"score":         h.Score,
			"recall_reason": recallReason(h),
		})
	}

	return jsonResult(map[string]any{
		"items":         items,
		"total_count":   len(items),
		"query_time_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handlePin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := parseID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return toolError(err)
	}
	if m.Pinned {
		return jsonResult(map[string]any{"id": id, "pinned": true, "already_pinned": true})
	}
	if err := s.store.SetPinned(ctx, id, true); err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{"id": id, "pinned": true})
}

func (s *Server) handleUnpin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := parseID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.SetPinned(ctx, id, false); err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{"id": id, "pinned": false})
}

func (s *Server) handleForget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := parseID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hard := req.GetBool("hard", false)

	if hard {
		if err := s.store.HardDelete(ctx, id); err != nil {
			return toolError(err)
		}
		return jsonResult(map[string]any{"id": id, "mode": "hard"})
	}
	if err := s.store.SoftDelete(ctx, id); err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{"id": id, "mode": "soft"})
}

func (s *Server) handleInjectPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	query := req.Params.Arguments["query"]
	if query == "" {
		return nil, fmt.Errorf("query argument is required")
	}

	res, err := s.injector.Inject(ctx, inject.Request{
		Query:       query,
		TokenBudget: atoiDefault(req.Params.Arguments["token_budget"], 1000),
		MaxMemories: atoiDefault(req.Params.Arguments["max_memories"], 5),
	})
	if err != nil {
		return nil, err
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("%d memories, ~%d tokens", res.MemoriesUsed, res.TokenEstimate),
		Messages: []mcp.PromptMessage{
			{Role: mcp.RoleUser, Content: mcp.NewTextContent(res.Text)},
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// touchViewCounts increments view_count for every memory a search surfaced.
// Best-effort and off the request path: §5's ordering guarantees only
// require writes to a single id to serialize, not that every read-side
// effect complete before the response is returned.
func (s *Server) touchViewCounts(hits []retrieval.Hit) {
	ctx := context.Background()
	for _, h := range hits {
		if err := s.store.IncrementCounter(ctx, h.Memory.ID, "view_count", 1); err != nil {
			log.Debug("mcpserver: view_count increment failed", "memoryId", h.Memory.ID, "err", err)
		}
	}
}

// filterHits applies the tags/importance_min filter terms that the
// Persistence Gateway's Filter does not carry (spec §6 names a richer filter
// set than the current store-layer Filter implements): a post-retrieval
// narrowing rather than a pushed-down predicate.
func filterHits(hits []retrieval.Hit, tags []string, importanceMin float64) []retrieval.Hit {
	if len(tags) == 0 && importanceMin <= 0 {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if importanceMin > 0 && h.Memory.Importance < importanceMin {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(h.Memory.Tags, tags) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

// recallReason names the largest of a hit's relevance, recency, importance
// and usage feature values (compared raw, not multiplied by the ranking
// weights), a human-readable gloss on an otherwise opaque composite score.
func recallReason(h retrieval.Hit) string {
	f := h.Features
	best := "relevance"
	bestScore := f.Relevance
	if f.Recency > bestScore {
		best, bestScore = "recency", f.Recency
	}
	if f.Importance > bestScore {
		best, bestScore = "importance", f.Importance
	}
	if f.Usage > bestScore {
		best, bestScore = "usage", f.Usage
	}
	return best
}

func parseID(req mcp.CallToolRequest) (uuid.UUID, error) {
	raw := req.GetString("id", "")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}
