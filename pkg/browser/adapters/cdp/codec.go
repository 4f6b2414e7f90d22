package cdp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/meetprobe/pkg/browser"
)

const devToolsBanner = "DevTools listening on "

// request is an outgoing DevTools command.
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// message is any incoming DevTools frame: a command response when ID is
// set, an event otherwise.
type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *protocolError  `json:"error,omitempty"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *protocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// target is an entry of the /json/list endpoint.
type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type navigateParams struct {
	URL string `json:"url"`
}

type navigateResult struct {
	FrameID   string `json:"frameId"`
	LoaderID  string `json:"loaderId,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

type evaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue"`
	AwaitPromise  bool   `json:"awaitPromise"`
	UserGesture   bool   `json:"userGesture,omitempty"`
}

type evaluateResult struct {
	Result           remoteObject      `json:"result"`
	ExceptionDetails *exceptionDetails `json:"exceptionDetails,omitempty"`
}

type remoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
}

type exceptionDetails struct {
	Text         string        `json:"text"`
	LineNumber   int           `json:"lineNumber"`
	ColumnNumber int           `json:"columnNumber"`
	Exception    *remoteObject `json:"exception,omitempty"`
}

type consoleAPICalled struct {
	Type string         `json:"type"`
	Args []remoteObject `json:"args"`
}

// wrapScript turns a function body into an expression.
func wrapScript(script string) string {
	return "(function(){\n" + script + "\n})()"
}

// decodeEvaluate extracts the return value of Runtime.evaluate. A thrown
// exception becomes a script_exception driver error; values with no JSON
// form decode as null.
func decodeEvaluate(raw json.RawMessage) (json.RawMessage, error) {
	var res evaluateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, browser.WrapDriverError(browser.CodeProtocol, "decode evaluate result", err)
	}
	if res.ExceptionDetails != nil {
		return nil, browser.NewDriverError(browser.CodeScriptException, res.ExceptionDetails.describe())
	}
	value := bytes.TrimSpace(res.Result.Value)
	if res.Result.Type == "undefined" || len(value) == 0 || res.Result.UnserializableValue != "" {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(value), nil
}

func (d *exceptionDetails) describe() string {
	if d.Exception != nil && d.Exception.Description != "" {
		// Description carries the stack; the first line is the message.
		first, _, _ := strings.Cut(d.Exception.Description, "\n")
		return first
	}
	if d.Text != "" {
		return d.Text
	}
	return "script threw"
}

// parseDevToolsURL extracts the browser endpoint from a chrome stderr line.
func parseDevToolsURL(line string) (string, bool) {
	idx := strings.Index(line, devToolsBanner)
	if idx < 0 {
		return "", false
	}
	endpoint := strings.TrimSpace(line[idx+len(devToolsBanner):])
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		return "", false
	}
	return endpoint, true
}

// consoleText renders console arguments the way the page printed them.
func consoleText(args []remoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case arg.Type == "string":
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				parts = append(parts, s)
				continue
			}
			parts = append(parts, string(arg.Value))
		case len(arg.Value) > 0:
			parts = append(parts, string(arg.Value))
		case arg.UnserializableValue != "":
			parts = append(parts, arg.UnserializableValue)
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, arg.Type)
		}
	}
	return strings.Join(parts, " ")
}
