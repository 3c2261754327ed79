package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	tel "github.com/Strob0t/taskrunner/internal/adapter/otel"
	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/domain"
	"github.com/Strob0t/taskrunner/internal/domain/execution"
	"github.com/Strob0t/taskrunner/internal/domain/tool"
	"github.com/Strob0t/taskrunner/internal/port/sandbox"
)

// ToolInvoker executes catalog tools on behalf of the model. Every failure,
// including unknown tools and bad arguments, is reported as a failed Result.
type ToolInvoker struct {
	catalog  *tool.Catalog
	runtime  sandbox.Runtime
	client   *http.Client
	searcher *WebSearcher
	cfg      config.Tools
	metrics  *tel.Metrics
	handlers map[string]toolFunc
}

type toolFunc func(ctx context.Context, call *tool.Call, ec execution.Context) (string, error)

// NewToolInvoker wires the catalog to its implementations.
func NewToolInvoker(catalog *tool.Catalog, rt sandbox.Runtime, client *http.Client, searcher *WebSearcher, cfg config.Tools, metrics *tel.Metrics) *ToolInvoker {
	inv := &ToolInvoker{
		catalog:  catalog,
		runtime:  rt,
		client:   client,
		searcher: searcher,
		cfg:      cfg,
		metrics:  metrics,
	}
	inv.handlers = map[string]toolFunc{
		tool.ReadFile:       inv.readFile,
		tool.WriteFile:      inv.writeFile,
		tool.ListDirectory:  inv.listDirectory,
		tool.ExecuteCommand: inv.executeCommand,
		tool.HTTPRequest:    inv.httpRequest,
		tool.WebSearch:      inv.webSearch,
	}
	return inv
}

// Catalog returns the tool catalog.
func (i *ToolInvoker) Catalog() *tool.Catalog { return i.catalog }

// Detect finds an embedded tool call in the model's reasoning text.
func (i *ToolInvoker) Detect(thought string) (*tool.Call, bool) {
	return tool.Detect(thought)
}

// Execute runs call in the execution's sandbox. It never returns an error.
func (i *ToolInvoker) Execute(ctx context.Context, call *tool.Call, ec execution.Context) tool.Result {
	ctx, span := tel.StartToolCallSpan(ctx, call.Name)

	res, err := i.execute(ctx, call, ec)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", domain.ErrToolExecution, call.Name, err)
		slog.WarnContext(ctx, "tool call failed", "tool", call.Name, "error", err)
		res = tool.Fail(err.Error())
	}
	res.Output = truncate(res.Output, i.cfg.OutputLimit)

	i.metrics.ToolCall(ctx, call.Name, res.Success)
	tel.EndSpan(span, err)
	return res
}

func (i *ToolInvoker) execute(ctx context.Context, call *tool.Call, ec execution.Context) (tool.Result, error) {
	if err := i.catalog.Validate(call); err != nil {
		return tool.Result{}, err
	}
	fn, ok := i.handlers[call.Name]
	if !ok {
		return tool.Result{}, fmt.Errorf("tool %q has no implementation", call.Name)
	}
	out, err := fn(ctx, call, ec)
	if err != nil {
		return tool.Result{}, err
	}
	return tool.Ok(out), nil
}

func (i *ToolInvoker) readFile(ctx context.Context, call *tool.Call, ec execution.Context) (string, error) {
	p := resolvePath(ec.WorkDir, call.String("path"))
	return i.shell(ctx, ec, "cat -- "+shellQuote(p))
}

func (i *ToolInvoker) writeFile(ctx context.Context, call *tool.Call, ec execution.Context) (string, error) {
	p := resolvePath(ec.WorkDir, call.String("path"))
	content := call.String("content")
	script := "mkdir -p -- " + shellQuote(path.Dir(p)) +
		" && printf '%s' " + shellQuote(content) + " > " + shellQuote(p)
	if _, err := i.shell(ctx, ec, script); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), p), nil
}

func (i *ToolInvoker) listDirectory(ctx context.Context, call *tool.Call, ec execution.Context) (string, error) {
	p := call.String("path")
	if p == "" {
		p = "."
	}
	return i.shell(ctx, ec, "ls -la -- "+shellQuote(resolvePath(ec.WorkDir, p)))
}

func (i *ToolInvoker) executeCommand(ctx context.Context, call *tool.Call, ec execution.Context) (string, error) {
	return i.shell(ctx, ec, call.String("command"))
}

func (i *ToolInvoker) httpRequest(ctx context.Context, call *tool.Call, _ execution.Context) (string, error) {
	method := strings.ToUpper(call.String("method"))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if b := call.String("body"); b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, call.String("url"), body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range call.StringMap("headers") {
		req.Header.Set(k, v)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	limit := i.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	out := fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, data)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", errors.New(out)
	}
	return out, nil
}

func (i *ToolInvoker) webSearch(ctx context.Context, call *tool.Call, _ execution.Context) (string, error) {
	results, err := i.searcher.Search(ctx, call.String("query"), call.Int("max_results", i.cfg.SearchMaxResult))
	if err != nil {
		return "", err
	}
	return formatResults(results), nil
}

// shell runs script with sh -c in the execution's working directory.
func (i *ToolInvoker) shell(ctx context.Context, ec execution.Context, script string) (string, error) {
	return i.runtime.Execute(ctx, ec.SandboxID, []string{"sh", "-c", script}, ec.WorkDir)
}

// resolvePath roots relative paths at workDir. Sandboxes are Linux, so
// slash-separated path semantics apply regardless of host OS.
func resolvePath(workDir, p string) string {
	if path.IsAbs(p) || workDir == "" {
		return path.Clean(p)
	}
	return path.Join(workDir, p)
}

// shellQuote wraps s in single quotes, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	// Cut on a rune boundary so the kept prefix stays valid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-n)
}
