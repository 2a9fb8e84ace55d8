package mcp

// ToolDefinitions returns the MCP tool surface. Every tool accepts an
// optional "project" name; when omitted the server resolves the project
// from its working directory or the saved default.
func ToolDefinitions() []ToolDefinition {
	projectProp := Property{Type: "string", Description: "Project name (optional, resolved from the working directory when omitted)"}

	return []ToolDefinition{
		{
			Name: "memory_store",
			Description: "Store a new memory as unconfirmed. Memories stay out of search " +
				"until a human confirms them; use this freely for decisions, constraints, " +
				"conventions, and notes worth keeping.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
					"content": {Type: "string", Description: "The fact to remember"},
					"category": {Type: "string", Description: "Kind of fact",
						Enum: []string{"stack", "decision", "constraint", "convention", "note"}},
				},
				Required: []string{"content", "category"},
			},
		},
		{
			Name: "memory_confirm",
			Description: "Confirm an unconfirmed memory, making it searchable. " +
				"Confirming an already-confirmed memory is a no-op.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
					"id":      {Type: "string", Description: "Memory ID"},
				},
				Required: []string{"id"},
			},
		},
		{
			Name: "memory_search",
			Description: "Search confirmed memories by semantic similarity. " +
				"Stale and archived memories are excluded.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
					"query":   {Type: "string", Description: "Natural language query"},
					"category": {Type: "string", Description: "Restrict to one category",
						Enum: []string{"stack", "decision", "constraint", "convention", "note"}},
					"limit": {Type: "number", Description: "Maximum results (default 10)", Default: 10},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "memory_update",
			Description: "Replace the content of a confirmed memory. The prior content is kept as a version.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
					"id":      {Type: "string", Description: "Memory ID"},
					"content": {Type: "string", Description: "New content"},
				},
				Required: []string{"id", "content"},
			},
		},
		{
			Name:        "memory_delete",
			Description: "Permanently delete a memory, its versions, and its commit links.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
					"id":      {Type: "string", Description: "Memory ID"},
				},
				Required: []string{"id"},
			},
		},
		{
			Name: "memory_suggest_consolidations",
			Description: "List pairs of confirmed memories similar enough to merge. " +
				"Advisory only; nothing is changed.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
					"limit":   {Type: "number", Description: "Maximum suggestions (default 10)", Default: 10},
				},
			},
		},
		{
			Name: "memory_consolidate",
			Description: "Merge two or more confirmed memories into one. Sources are archived, " +
				"not deleted, and the merge can be rolled back.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
					"sourceIds": {Type: "array", Description: "IDs of the memories to merge",
						Items: &Items{Type: "string"}},
					"mergedContent": {Type: "string", Description: "Merged content (defaults to the sources joined)"},
				},
				Required: []string{"sourceIds"},
			},
		},
		{
			Name:        "memory_sync_status",
			Description: "Report unpushed memories and unresolved sync conflicts for the project.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
				},
			},
		},
		{
			Name:        "project_status",
			Description: "Report the resolved project and its memory counts by state.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": projectProp,
				},
			},
		},
	}
}
