package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yosida95/uritemplate/v3"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
)

// DefaultToolTimeout is applied to every outbound call unless the operator
// overrides it (spec.md §9 Open Question (d): the source hard-codes 30s,
// this implementation makes it configurable).
const DefaultToolTimeout = 30 * time.Second

const emptyResultSentinel = "(empty result)"

// maxErrorBodyLog bounds how much of a failing response body is echoed
// back in the tool's error content.
const maxErrorBodyLog = 2048

// Invoker executes tool calls as outbound HTTP requests against a
// catalog of resolved tool descriptors (spec.md §4.5 "Invocation").
type Invoker struct {
	APIHost string
	Client  *http.Client
	Timeout time.Duration
}

// NewInvoker constructs an Invoker bound to apiHost, defaulting the
// per-call timeout to DefaultToolTimeout when timeout is zero.
func NewInvoker(apiHost string, timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Invoker{
		APIHost: strings.TrimRight(apiHost, "/"),
		Client:  &http.Client{},
		Timeout: timeout,
	}
}

// Invoke validates args against tool's declared arguments, builds the
// outbound HTTP request, executes it, and returns the MCP tool content
// block the result renders as. A validation failure returns (nil, err)
// with err carrying a -32602 RPCError, matching spec.md's "fails before
// any HTTP request is issued" invariant.
func (inv *Invoker) Invoke(ctx context.Context, tool domain.ToolDescriptor, args map[string]any, sessionHeaders map[string]string) (*domain.ToolCallResult, error) {
	resolved, err := resolveArgs(tool, args)
	if err != nil {
		return nil, err
	}

	reqURL, err := inv.buildURL(tool.RequestTemplate.URL, resolved)
	if err != nil {
		return nil, &domain.RPCError{Code: domain.CodeInvalidParams, Message: err.Error()}
	}

	var body io.Reader
	if len(resolved.body) > 0 {
		encoded, err := json.Marshal(resolved.body)
		if err != nil {
			return nil, &domain.RPCError{Code: domain.CodeInternalError, Message: "encoding request body: " + err.Error()}
		}
		body = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, inv.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(tool.RequestTemplate.Method), reqURL, body)
	if err != nil {
		return nil, &domain.RPCError{Code: domain.CodeInternalError, Message: "building request: " + err.Error()}
	}

	applyHeaders(req, tool.RequestTemplate.StaticHeaders)
	for k, v := range resolved.headers {
		req.Header.Set(k, v)
	}
	for k, v := range sessionHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := inv.Client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &domain.RPCError{Code: domain.CodeServerError, Message: fmt.Sprintf("Tool execution timeout: %s", tool.Name)}
		}
		return errorResult(fmt.Sprintf("request failed: %v", err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResult(fmt.Sprintf("reading response: %v", err)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorResult(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), maxErrorBodyLog))), nil
	}

	return renderSuccess(tool, resp.Header.Get("Content-Type"), respBody), nil
}

type resolvedArgs struct {
	path    map[string]string
	query   url.Values
	headers map[string]string
	body    map[string]any
}

// resolveArgs validates every declared arg against the supplied values,
// coercing each to its declared type and failing on an absent required
// arg (spec.md §4.5 "validates and coerces each argument").
func resolveArgs(tool domain.ToolDescriptor, args map[string]any) (*resolvedArgs, error) {
	out := &resolvedArgs{
		path:    map[string]string{},
		query:   url.Values{},
		headers: map[string]string{},
		body:    map[string]any{},
	}

	for _, arg := range tool.Args {
		val, present := args[arg.Name]
		if !present {
			if arg.Required {
				return nil, &domain.RPCError{Code: domain.CodeInvalidParams, Message: fmt.Sprintf("Missing required argument %q", arg.Name)}
			}
			continue
		}

		coerced, err := coerce(arg, val)
		if err != nil {
			return nil, &domain.RPCError{Code: domain.CodeInvalidParams, Message: fmt.Sprintf("argument %q: %v", arg.Name, err)}
		}

		switch arg.Position {
		case domain.PositionPath:
			out.path[arg.Name] = fmt.Sprint(coerced)
		case domain.PositionQuery:
			out.query.Set(arg.Name, fmt.Sprint(coerced))
		case domain.PositionHeader:
			out.headers[arg.Name] = fmt.Sprint(coerced)
		case domain.PositionBody:
			out.body[arg.Name] = coerced
		}
	}
	return out, nil
}

func coerce(arg domain.ToolArg, val any) (any, error) {
	switch arg.Type {
	case domain.TypeInteger, domain.TypeNumber:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return v, nil
		case string:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("expected a number, got %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected a number, got %T", val)
		}
	case domain.TypeBoolean:
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("expected a boolean, got %q", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected a boolean, got %T", val)
		}
	case domain.TypeArray, domain.TypeObject:
		return val, nil
	default:
		return fmt.Sprint(val), nil
	}
}

// buildURL expands {name} path placeholders via RFC 6570 URI Templates,
// appends query parameters, and joins the result against api_host per
// spec.md §8 invariant (4): "uses api_host as its URL prefix unless the
// tool's request_template.url is already absolute."
func (inv *Invoker) buildURL(template string, args *resolvedArgs) (string, error) {
	tmpl, err := uritemplate.New(template)
	if err != nil {
		return "", fmt.Errorf("invalid url template %q: %w", template, err)
	}

	values := uritemplate.Values{}
	for name, val := range args.path {
		values[name] = uritemplate.String(val)
	}
	substituted := tmpl.Expand(values)
	if strings.Contains(substituted, "{") && strings.Contains(substituted, "}") {
		return "", fmt.Errorf("unresolved path placeholder in %q", template)
	}

	full := substituted
	if !strings.HasPrefix(substituted, "http://") && !strings.HasPrefix(substituted, "https://") {
		full = strings.TrimRight(inv.APIHost, "/") + "/" + strings.TrimLeft(substituted, "/")
	}

	u, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", full, err)
	}
	if len(args.query) > 0 {
		existing := u.Query()
		for k, vs := range args.query {
			for _, v := range vs {
				existing.Add(k, v)
			}
		}
		u.RawQuery = existing.Encode()
	}
	return u.String(), nil
}

// applyHeaders sets the tool's static headers, expanding {{uuidv4}}
// placeholders fresh on every call (spec.md §4.5).
func applyHeaders(req *http.Request, headers []domain.StaticHeader) {
	for _, h := range headers {
		req.Header.Set(h.Name, expandPlaceholders(h.Value))
	}
}

func expandPlaceholders(value string) string {
	if strings.Contains(value, "{{uuidv4}}") {
		return strings.ReplaceAll(value, "{{uuidv4}}", uuid.New().String())
	}
	return value
}

// renderSuccess parses the response as JSON when its content type says so,
// otherwise keeps it as text, prepends response_template.prepend_body, and
// wraps the result as a single text content block.
func renderSuccess(tool domain.ToolDescriptor, contentType string, body []byte) *domain.ToolCallResult {
	text := strings.TrimSpace(string(body))

	if strings.HasPrefix(contentType, "application/json") && text != "" {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err == nil {
			text = pretty.String()
		}
	}
	if text == "" {
		text = emptyResultSentinel
	}
	if tool.ResponseTemplate.PrependBody != "" {
		text = tool.ResponseTemplate.PrependBody + "\n\n" + text
	}

	return &domain.ToolCallResult{Content: []domain.ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(message string) *domain.ToolCallResult {
	return &domain.ToolCallResult{
		Content: []domain.ContentBlock{{Type: "text", Text: message}},
		IsError: true,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
