package rpc

import (
	"context"
	"fmt"

	"github.com/dnldd/candlebot/bot"
	"github.com/dnldd/candlebot/shared"
	"github.com/tidwall/gjson"
)

// handleIDs returns the client ids subscribed to the named bot, every client id when
// no name is provided.
func (d *Dispatcher) handleIDs(ctx context.Context, req *Request) (any, error) {
	room := ""
	if req.Args.Exists() && req.Args.Type != gjson.Null {
		name, err := nameArg(req.Args)
		if err != nil {
			return nil, err
		}
		room = name
	}

	return d.cfg.Hub.Members(room), nil
}

// handleBeBot returns whether the named bot exists.
func (d *Dispatcher) handleBeBot(ctx context.Context, req *Request) (any, error) {
	name, err := nameArg(req.Args)
	if err != nil {
		return nil, err
	}

	return d.cfg.Registry.Has(name), nil
}

// handleGetBot subscribes the client to the named bot.
func (d *Dispatcher) handleGetBot(ctx context.Context, req *Request) (any, error) {
	name, err := nameArg(req.Args)
	if err != nil {
		return nil, err
	}

	if name != bot.MasterName && !d.cfg.Registry.Has(name) {
		return nil, fmt.Errorf("%w: %q", shared.ErrBotNotFound, name)
	}

	if err := d.cfg.Hub.Join(name, req.ClientID); err != nil {
		return nil, err
	}

	return "ok", nil
}

// handleNewBot creates a bot and subscribes the client to it. The name is checked
// before the config is parsed.
func (d *Dispatcher) handleNewBot(ctx context.Context, req *Request) (any, error) {
	if !req.Args.IsObject() {
		return nil, fmt.Errorf("%w: expected {name, config} arguments", shared.ErrValidation)
	}

	name := req.Args.Get("name").String()
	if err := d.cfg.Registry.CheckName(name); err != nil {
		return nil, err
	}

	cfg, err := bot.ParseConfig(req.Args.Get("config"))
	if err != nil {
		return nil, err
	}

	if err := d.cfg.Registry.Create(name, cfg); err != nil {
		return nil, err
	}

	if err := d.cfg.Hub.Join(name, req.ClientID); err != nil {
		return nil, err
	}

	return "ok", nil
}

// handleStart starts the named bot and answers with its status once the run is done.
func (d *Dispatcher) handleStart(ctx context.Context, req *Request) (any, error) {
	name, err := nameArg(req.Args)
	if err != nil {
		return nil, err
	}

	if err := d.cfg.Registry.Start(ctx, name); err != nil {
		return nil, err
	}

	return d.cfg.Registry.Wait(ctx, name)
}

// handleStop requests the named bot to stop.
func (d *Dispatcher) handleStop(ctx context.Context, req *Request) (any, error) {
	name, err := nameArg(req.Args)
	if err != nil {
		return nil, err
	}

	return d.cfg.Registry.Stop(name)
}

// handleStatus returns the status of the named bot.
func (d *Dispatcher) handleStatus(ctx context.Context, req *Request) (any, error) {
	name, err := nameArg(req.Args)
	if err != nil {
		return nil, err
	}

	return d.cfg.Registry.Status(name)
}

// handleVersion returns the served api version.
func (d *Dispatcher) handleVersion(ctx context.Context, req *Request) (any, error) {
	return d.cfg.Version, nil
}
