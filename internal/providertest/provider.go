// ABOUTME: Scripted stdio provider with deterministic tools for exercising the hub.
// ABOUTME: Tools cover success, remote errors, garbage output, slowness, crashes and notifications.

package providertest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/2389/mcp-hub/internal/protocol"
)

// EnvMode selects the provider mode when the test binary is re-executed.
const EnvMode = "MCPHUB_PROVIDER_MODE"

// Mode controls how the provider behaves as a whole.
type Mode string

const (
	// ModeServe answers initialize and every scripted tool.
	ModeServe Mode = "serve"
	// ModeExit writes a fatal message to stderr and exits 1 immediately.
	ModeExit Mode = "exit"
	// ModeNoInit rejects initialize but still serves tools.
	ModeNoInit Mode = "noinit"
	// ModeSilent reads requests and never answers.
	ModeSilent Mode = "silent"
)

// ExitMessage is what ModeExit writes to stderr.
const ExitMessage = "fatal: provider configuration missing"

// Tools lists the scripted tool names served in ModeServe and ModeNoInit.
var Tools = []protocol.ToolInfo{
	{Name: "ping", Description: "Answers pong with a bare result line"},
	{Name: "echo", Description: "Returns the arguments under an echo key"},
	{Name: "sleep", Description: "Sleeps for arguments.ms milliseconds"},
	{Name: "fail", Description: "Returns a JSON-RPC error"},
	{Name: "garbage", Description: "Writes a line that is not JSON"},
	{Name: "crash", Description: "Exits without answering"},
	{Name: "goodbye", Description: "Answers bye, then exits"},
	{Name: "init_count", Description: "Reports how many initialize requests were seen"},
	{Name: "notify", Description: "Emits a notification before answering"},
	{Name: "stderr", Description: "Writes arguments.text to stderr"},
}

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type provider struct {
	mode   Mode
	out    io.Writer
	errOut io.Writer
	mu     sync.Mutex
	inits  int
}

// Serve runs the provider until in is exhausted or a tool asks it to exit,
// and returns the process exit code.
func Serve(in io.Reader, out, errOut io.Writer, mode Mode) int {
	if mode == ModeExit {
		fmt.Fprintln(errOut, ExitMessage)
		return 1
	}
	p := &provider{mode: mode, out: out, errOut: errOut}

	br := bufio.NewReader(in)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if code, exit := p.handle(line); exit {
				return code
			}
		}
		if err != nil {
			return 0
		}
	}
}

// MaybeRun turns the current process into a provider when EnvMode is set.
// Call it first thing in TestMain.
func MaybeRun() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(Serve(os.Stdin, os.Stdout, os.Stderr, Mode(mode)))
}

// Command returns how to launch the current test binary as a provider.
func Command(mode Mode) (path string, args []string, env map[string]string) {
	path, err := os.Executable()
	if err != nil {
		path = os.Args[0]
	}
	return path, []string{"-test.run=^$"}, map[string]string{EnvMode: string(mode)}
}

func (p *provider) handle(line []byte) (int, bool) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		fmt.Fprintf(p.errOut, "unparseable request: %v\n", err)
		return 0, false
	}
	if p.mode == ModeSilent {
		return 0, false
	}
	if len(req.ID) == 0 || string(req.ID) == "null" {
		return 0, false
	}

	switch req.Method {
	case protocol.MethodInitialize:
		p.mu.Lock()
		p.inits++
		p.mu.Unlock()
		if p.mode == ModeNoInit {
			p.replyError(req.ID, protocol.CodeMethodNotFound, "initialize not supported", nil)
			return 0, false
		}
		p.reply(req.ID, map[string]any{
			"protocolVersion": protocol.DefaultProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      protocol.Implementation{Name: "scripted-provider", Version: "0.1.0"},
		})
	case protocol.MethodToolsList:
		p.reply(req.ID, protocol.ListToolsResult{Tools: Tools})
	case protocol.MethodToolsCall:
		return p.callTool(req)
	default:
		p.replyError(req.ID, protocol.CodeMethodNotFound, "method not found: "+req.Method, nil)
	}
	return 0, false
}

func (p *provider) callTool(req request) (int, bool) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		p.replyError(req.ID, protocol.CodeInvalidParams, err.Error(), nil)
		return 0, false
	}
	args := params.Arguments
	if len(args) == 0 {
		args = json.RawMessage("null")
	}

	switch params.Name {
	case "ping":
		p.writeLine([]byte(`{"result":"pong"}`))
	case "echo":
		p.reply(req.ID, map[string]json.RawMessage{"echo": args})
	case "sleep":
		var a struct {
			MS int `json:"ms"`
		}
		_ = json.Unmarshal(args, &a)
		time.Sleep(time.Duration(a.MS) * time.Millisecond)
		p.reply(req.ID, map[string]int{"slept": a.MS})
	case "fail":
		p.replyError(req.ID, -32000, "tool failed", args)
	case "garbage":
		p.writeLine([]byte("this is not json"))
	case "crash":
		return 3, true
	case "goodbye":
		p.reply(req.ID, "bye")
		return 0, true
	case "init_count":
		p.mu.Lock()
		n := p.inits
		p.mu.Unlock()
		p.reply(req.ID, map[string]int{"initialize": n})
	case "notify":
		p.writeJSON(map[string]any{"jsonrpc": "2.0", "method": "notifications/progress", "params": map[string]any{"progress": 1}})
		p.reply(req.ID, protocol.TextResult("notified"))
	case "stderr":
		var a struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(args, &a)
		fmt.Fprintln(p.errOut, a.Text)
		p.reply(req.ID, protocol.TextResult("written"))
	default:
		p.replyError(req.ID, protocol.CodeInvalidParams, "unknown tool: "+params.Name, nil)
	}
	return 0, false
}

func (p *provider) reply(id json.RawMessage, result any) {
	p.writeJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (p *provider) replyError(id json.RawMessage, code int, message string, data json.RawMessage) {
	e := map[string]any{"code": code, "message": message}
	if data != nil {
		e["data"] = data
	}
	p.writeJSON(map[string]any{"jsonrpc": "2.0", "id": id, "error": e})
}

func (p *provider) writeJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(p.errOut, "encoding response: %v\n", err)
		return
	}
	p.writeLine(b)
}

func (p *provider) writeLine(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.out.Write(append(b, '\n'))
}
