package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/task"
)

// Client is a worker's connection to the master. It also serves as the
// worker's prompter, forwarding every question to the master's terminal.
type Client struct {
	base string
	host string
	http *http.Client
	ctx  context.Context
}

// NewClient creates a client for the server at baseURL. Prompts are bound
// to ctx.
func NewClient(ctx context.Context, baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{},
		ctx:  ctx,
	}
}

// ForHost returns a copy of c whose prompts are tagged with alias on the
// master's terminal.
func (c *Client) ForHost(alias string) *Client {
	cp := *c
	cp.host = alias
	return &cp
}

// Load fetches the global and host configuration snapshots.
func (c *Client) Load(ctx context.Context, alias string) (map[string]any, map[string]any, error) {
	var resp LoadResponse
	if err := c.post(ctx, PathLoad, LoadRequest{Host: alias}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Global, resp.Host, nil
}

// Save sends the host's state back to the master.
func (c *Client) Save(ctx context.Context, alias string, values map[string]any) error {
	return c.post(ctx, PathSave, SaveRequest{Host: alias, Values: values}, nil)
}

func (c *Client) Ask(question, def string, suggestions []string) (string, error) {
	resp, err := c.proxy(ProxyRequest{Function: FuncAsk, Question: question, Default: def, Suggestions: suggestions})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) AskConfirmation(question string, def bool) (bool, error) {
	resp, err := c.proxy(ProxyRequest{Function: FuncAskConfirmation, Question: question, DefaultBool: def})
	if err != nil {
		return false, err
	}
	return resp.Confirmed, nil
}

func (c *Client) AskHiddenResponse(question string) (string, error) {
	resp, err := c.proxy(ProxyRequest{Function: FuncAskHiddenResponse, Question: question})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) AskChoice(question string, choices []string, def string, multiple bool) ([]string, error) {
	resp, err := c.proxy(ProxyRequest{Function: FuncAskChoice, Question: question, Choices: choices, Default: def, Multiple: multiple})
	if err != nil {
		return nil, err
	}
	return resp.Choices, nil
}

func (c *Client) proxy(req ProxyRequest) (*ProxyResponse, error) {
	req.Host = c.host
	var resp ProxyResponse
	if err := c.post(c.ctx, PathProxy, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrControl, "Can't encode control request", "")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrControl, "Can't build control request", "")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ProtocolHeader, ProtocolVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrControl,
			"Can't reach the master at "+c.base,
			"The master may have exited; check its output")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return errors.New(errors.ErrControl, fmt.Sprintf("Control request %s failed with %s", path, resp.Status), "")
		}
		if e.SoftStop {
			return errors.NewSoftStop(e.Error)
		}
		return errors.New(errors.ErrControl, fmt.Sprintf("Control request %s failed: %s", path, strings.TrimSpace(e.Error)), "")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapWithCode(err, errors.ErrControl, "Malformed control response", "")
	}
	return nil
}

var _ task.Prompter = (*Client)(nil)
