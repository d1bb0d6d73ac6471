// ABOUTME: Static routing table from tool name to server, grouped by provider category.
// ABOUTME: Validates collisions at construction and ships the default tool groupings.

package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrToolCollision indicates a tool name is routed to more than one server.
var ErrToolCollision = errors.New("tool name collision")

// ErrInvalidRoute indicates a route is missing its tool or server name.
var ErrInvalidRoute = errors.New("invalid route")

// Category names the kind of provider a server is.
type Category string

const (
	CategoryFilesystem         Category = "filesystem"
	CategoryMemory             Category = "memory"
	CategoryEverything         Category = "everything"
	CategorySequentialThinking Category = "sequentialthinking"
	CategoryCustom             Category = "custom"
)

// ParseCategory validates a category name. The empty string is CategoryCustom.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryFilesystem, CategoryMemory, CategoryEverything, CategorySequentialThinking, CategoryCustom:
		return c, nil
	case "":
		return CategoryCustom, nil
	default:
		return "", fmt.Errorf("unknown server category %q", s)
	}
}

// Route maps one tool to the server that serves it.
type Route struct {
	Tool        string          `json:"tool"`
	Server      string          `json:"server"`
	Category    Category        `json:"category"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Table is an immutable tool routing table.
type Table struct {
	routes map[string]Route
	order  []string
}

// NewTable builds a Table, rejecting empty names and tools routed twice.
func NewTable(routes []Route) (*Table, error) {
	t := &Table{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		if r.Tool == "" || r.Server == "" {
			return nil, fmt.Errorf("%w: tool %q server %q", ErrInvalidRoute, r.Tool, r.Server)
		}
		if existing, ok := t.routes[r.Tool]; ok {
			return nil, fmt.Errorf("%w: tool '%s' routed to both '%s' and '%s'",
				ErrToolCollision, r.Tool, existing.Server, r.Server)
		}
		if r.Category == "" {
			r.Category = CategoryCustom
		}
		t.routes[r.Tool] = r
		t.order = append(t.order, r.Tool)
	}
	return t, nil
}

// Lookup returns the route for tool.
func (t *Table) Lookup(tool string) (Route, bool) {
	r, ok := t.routes[tool]
	return r, ok
}

// Routes returns every route in insertion order.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.routes[name])
	}
	return out
}

// ToolsFor returns the tool names routed to server, sorted.
func (t *Table) ToolsFor(server string) []string {
	var tools []string
	for name, r := range t.routes {
		if r.Server == server {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}

// Len returns the number of routed tools.
func (t *Table) Len() int {
	return len(t.routes)
}

// ToolSpec is a tool a category serves unless configuration overrides it.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

var defaultTools = map[Category][]ToolSpec{
	CategoryFilesystem: {
		{
			Name:        "read_file",
			Description: "Read contents of a file from the filesystem",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Full path to the file to read"}},"required":["path"]}`),
		},
		{
			Name:        "write_file",
			Description: "Write contents to a file on the filesystem",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Full path to the file to write"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
		},
		{
			Name:        "list_directory",
			Description: "List the entries of a directory",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory to list"}},"required":["path"]}`),
		},
	},
	CategoryMemory: {
		{
			Name:        "create_entity",
			Description: "Create a new entity in the knowledge graph with observations",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string","description":"Name of the entity to create"},"entity_type":{"type":"string","description":"Type/category of the entity"},"observations":{"type":"array","items":{"type":"string"},"description":"List of observations about this entity"}},"required":["name","entity_type"]}`),
		},
		{
			Name:        "query_memory",
			Description: "Query the knowledge graph",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"What to look up"}},"required":["query"]}`),
		},
		{
			Name:        "search_entities",
			Description: "Search knowledge graph entities by name or observation",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search text"}},"required":["query"]}`),
		},
	},
	CategoryEverything: {
		{
			Name:        "get_current_time",
			Description: "Get the current time",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "git_log",
			Description: "Show recent commits of a git repository",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"repo_path":{"type":"string","description":"Path to the repository"},"max_count":{"type":"integer","description":"Maximum number of commits"}}}`),
		},
	},
	CategorySequentialThinking: {
		{
			Name:        "thinking_step",
			Description: "Record one step of a sequential reasoning process",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"thought":{"type":"string","description":"The current thinking step"}},"required":["thought"]}`),
		},
		{
			Name:        "analyze_problem",
			Description: "Break a problem down into steps",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"problem":{"type":"string","description":"Problem statement"}},"required":["problem"]}`),
		},
	},
}

// DefaultTools returns the tools a category serves by default. Custom
// servers have none.
func DefaultTools(c Category) []ToolSpec {
	return append([]ToolSpec(nil), defaultTools[c]...)
}

// EmptySchema is used for tools configured without an input schema.
var EmptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// RoutesFor builds routes sending each tool to server.
func RoutesFor(server string, category Category, tools []ToolSpec) []Route {
	routes := make([]Route, 0, len(tools))
	for _, tool := range tools {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = EmptySchema
		}
		routes = append(routes, Route{
			Tool:        tool.Name,
			Server:      server,
			Category:    category,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return routes
}
