package tool

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var definitions = []Definition{
	{
		Name:        ReadFile,
		Description: "Read a text file. Relative paths resolve against the repository root.",
		Category:    CategoryFile,
		Parameters: `{
			"type": "object",
			"properties": {"path": {"type": "string", "minLength": 1}},
			"required": ["path"]
		}`,
	},
	{
		Name:        WriteFile,
		Description: "Create or overwrite a text file with the given content. Parent directories are created.",
		Category:    CategoryFile,
		Parameters: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`,
	},
	{
		Name:        ListDirectory,
		Description: "List the entries of a directory. Defaults to the repository root.",
		Category:    CategoryFile,
		Parameters: `{
			"type": "object",
			"properties": {"path": {"type": "string"}}
		}`,
	},
	{
		Name:        ExecuteCommand,
		Description: "Run a shell command in the repository root and return its combined output.",
		Category:    CategoryShell,
		Parameters: `{
			"type": "object",
			"properties": {"command": {"type": "string", "minLength": 1}},
			"required": ["command"]
		}`,
	},
	{
		Name:        HTTPRequest,
		Description: "Issue an HTTP request and return the status and body.",
		Category:    CategoryNetwork,
		Parameters: `{
			"type": "object",
			"properties": {
				"url": {"type": "string", "pattern": "^https?://"},
				"method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"]},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}},
				"body": {"type": "string"}
			},
			"required": ["url"]
		}`,
	},
	{
		Name:        WebSearch,
		Description: "Search the web and return the top results as title, URL and snippet.",
		Category:    CategorySearch,
		Parameters: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 10}
			},
			"required": ["query"]
		}`,
	},
}

// Catalog is the immutable set of tool definitions with compiled argument schemas.
type Catalog struct {
	defs    []Definition
	byName  map[string]int
	schemas map[string]*jsonschema.Schema
}

// NewCatalog compiles the parameter schema of every definition.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:    defs,
		byName:  make(map[string]int, len(defs)),
		schemas: make(map[string]*jsonschema.Schema, len(defs)),
	}
	for i, d := range defs {
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", d.Name)
		}
		sch, err := jsonschema.CompileString("tool://"+d.Name+".json", d.Parameters)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", d.Name, err)
		}
		c.byName[d.Name] = i
		c.schemas[d.Name] = sch
	}
	return c, nil
}

// DefaultCatalog returns the built-in tool catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(definitions)
	if err != nil {
		panic(err)
	}
	return c
}

// Definitions returns the catalog in declaration order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Validate checks the call's arguments against the tool's parameter schema.
func (c *Catalog) Validate(call *Call) error {
	sch, ok := c.schemas[call.Name]
	if !ok {
		return fmt.Errorf("unknown tool %q", call.Name)
	}
	args := any(call.Arguments)
	if call.Arguments == nil {
		args = map[string]any{}
	}
	if err := sch.Validate(args); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
	}
	return nil
}

// Describe renders the catalog for inclusion in a prompt.
func (c *Catalog) Describe() string {
	var b strings.Builder
	b.WriteString("Available tools (invoke by writing use_tool(\"<name>\", {<json arguments>}) in your thought):\n")
	for _, d := range c.defs {
		fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", d.Name, d.Description, compactSchema(d.Parameters))
	}
	return b.String()
}

func compactSchema(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
