package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/candlebot/bot"
	"github.com/dnldd/candlebot/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Command names.
const (
	CmdIDs     = ":ids"
	CmdBeBot   = ":be.bot"
	CmdGetBot  = ":get.bot"
	CmdNewBot  = ":new.bot"
	CmdStart   = ":start"
	CmdStop    = ":stop"
	CmdStatus  = ":status"
	CmdVersion = ":version"
)

// Request is a command issued by a client.
type Request struct {
	// Command is the command name.
	Command string
	// Args are the raw command arguments.
	Args gjson.Result
	// ClientID is the hub subscriber id of the issuing client.
	ClientID string
	// Token is the access token the client connected with.
	Token string
	// Permissions are the permissions resolved for the token.
	Permissions []string
}

// Handler executes a command.
type Handler func(ctx context.Context, req *Request) (any, error)

// Middleware runs before a handler, rejecting the request with an error.
type Middleware func(req *Request) (*Request, error)

// route is a dispatch table entry.
type route struct {
	chain   []Middleware
	handler Handler
}

// DispatcherConfig represents the dispatcher configuration.
type DispatcherConfig struct {
	// Registry is the bot registry.
	Registry *bot.Registry
	// Hub is the subscriber hub.
	Hub *bot.Hub
	// Authorizer resolves token permissions.
	Authorizer Authorizer
	// Version is the served api version.
	Version string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *DispatcherConfig) Validate() error {
	var errs error

	if cfg.Registry == nil {
		errs = errors.Join(errs, fmt.Errorf("registry cannot be nil"))
	}
	if cfg.Hub == nil {
		errs = errors.Join(errs, fmt.Errorf("hub cannot be nil"))
	}
	if cfg.Authorizer == nil {
		errs = errors.Join(errs, fmt.Errorf("authorizer cannot be nil"))
	}
	if cfg.Version == "" {
		errs = errors.Join(errs, fmt.Errorf("version cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Dispatcher routes commands through their middleware chain to their handler.
type Dispatcher struct {
	cfg    *DispatcherConfig
	routes map[string]route
}

// NewDispatcher initializes a new command dispatcher.
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	d := &Dispatcher{cfg: cfg}

	authorized := []Middleware{Authenticate(cfg.Authorizer), RequirePermission(PermissionLevel01)}
	member := append(authorized[:len(authorized):len(authorized)], d.requireMembership)

	d.routes = map[string]route{
		CmdIDs:     {chain: authorized, handler: d.handleIDs},
		CmdBeBot:   {chain: authorized, handler: d.handleBeBot},
		CmdGetBot:  {chain: authorized, handler: d.handleGetBot},
		CmdNewBot:  {chain: authorized, handler: d.handleNewBot},
		CmdStart:   {chain: member, handler: d.handleStart},
		CmdStop:    {chain: member, handler: d.handleStop},
		CmdStatus:  {chain: member, handler: d.handleStatus},
		CmdVersion: {handler: d.handleVersion},
	}

	return d, nil
}

// Dispatch executes the provided request. Bot runs started by the request live until
// the provided context is done.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (any, error) {
	rt, ok := d.routes[req.Command]
	if !ok {
		return nil, fmt.Errorf("%w: command %q", shared.ErrNotFound, req.Command)
	}

	var err error
	for _, middleware := range rt.chain {
		req, err = middleware(req)
		if err != nil {
			return nil, err
		}
	}

	res, err := rt.handler(ctx, req)
	if err != nil {
		if shared.ErrorKind(err) == nil {
			d.cfg.Logger.Error().Err(err).Msgf("unexpected %s failure: %s", req.Command, spew.Sdump(req.Args.Raw))
		}
		return nil, err
	}

	return res, nil
}

// requireMembership rejects requests for bots the client is not subscribed to.
func (d *Dispatcher) requireMembership(req *Request) (*Request, error) {
	name, err := nameArg(req.Args)
	if err != nil {
		return nil, err
	}

	if !d.cfg.Registry.Has(name) {
		return nil, fmt.Errorf("%w: %q", shared.ErrBotNotFound, name)
	}
	if !d.cfg.Hub.IsMember(name, req.ClientID) {
		return nil, fmt.Errorf("%w: client %s of bot %q", shared.ErrNotMember, req.ClientID, name)
	}

	return req, nil
}

// nameArg extracts the bot name from the provided arguments, either a bare string or
// an object with a name field.
func nameArg(args gjson.Result) (string, error) {
	var name string
	switch {
	case args.Type == gjson.String:
		name = args.Str
	case args.IsObject():
		name = args.Get("name").String()
	}

	if name == "" {
		return "", fmt.Errorf("%w: bot name is required", shared.ErrValidation)
	}

	return name, nil
}
