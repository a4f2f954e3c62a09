package controlplane

import (
	"fmt"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/task"
)

// Kind names the control-plane operation a Request carries.
type Kind string

const (
	KindLoad  Kind = "load"
	KindSave  Kind = "save"
	KindProxy Kind = "proxy"
)

// Request is one control-plane call waiting for the master loop.
// Exactly one of Load, Save and Proxy is set, matching Kind.
type Request struct {
	Kind  Kind
	Load  *LoadRequest
	Save  *SaveRequest
	Proxy *ProxyRequest

	reply chan Response
}

// Response answers a Request.
type Response struct {
	Load  *LoadResponse
	Proxy *ProxyResponse
	Err   error
}

func newRequest(kind Kind) *Request {
	return &Request{Kind: kind, reply: make(chan Response, 1)}
}

// Respond completes the request. Only the first response counts.
func (r *Request) Respond(resp Response) {
	select {
	case r.reply <- resp:
	default:
	}
}

// Backend is what the master exposes to workers.
type Backend interface {
	Load(alias string) (global, hostValues map[string]any, err error)
	Save(alias string, values map[string]any) error
	Prompter() task.Prompter
}

// Handle answers req from b.
func Handle(b Backend, req *Request) {
	req.Respond(dispatch(b, req))
}

func dispatch(b Backend, req *Request) Response {
	switch req.Kind {
	case KindLoad:
		global, values, err := b.Load(req.Load.Host)
		if err != nil {
			return Response{Err: err}
		}
		return Response{Load: &LoadResponse{Global: global, Host: values}}
	case KindSave:
		return Response{Err: b.Save(req.Save.Host, req.Save.Values)}
	case KindProxy:
		resp, err := proxy(b.Prompter(), req.Proxy)
		return Response{Proxy: resp, Err: err}
	default:
		return Response{Err: errors.New(errors.ErrControl, fmt.Sprintf("Unknown request kind %q", req.Kind), "")}
	}
}

func proxy(p task.Prompter, req *ProxyRequest) (*ProxyResponse, error) {
	question := req.Question
	if req.Host != "" {
		question = "[" + req.Host + "] " + question
	}
	switch req.Function {
	case FuncAsk:
		text, err := p.Ask(question, req.Default, req.Suggestions)
		return &ProxyResponse{Text: text}, err
	case FuncAskConfirmation:
		ok, err := p.AskConfirmation(question, req.DefaultBool)
		return &ProxyResponse{Confirmed: ok}, err
	case FuncAskHiddenResponse:
		text, err := p.AskHiddenResponse(question)
		return &ProxyResponse{Text: text}, err
	case FuncAskChoice:
		choices, err := p.AskChoice(question, req.Choices, req.Default, req.Multiple)
		return &ProxyResponse{Choices: choices}, err
	default:
		return nil, errors.New(errors.ErrControl,
			fmt.Sprintf("Unknown proxy function %q", req.Function),
			"Proxyable functions: ask, askConfirmation, askHiddenResponse, askChoice")
	}
}
