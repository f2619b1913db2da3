package main

import (
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"
)

// handshake and rpcPlugin mirror the host's pkg/plugins package. They're
// duplicated rather than imported because this binary is built as its own
// Go module — a plugin ships independently of the server it's dispensed
// into — so the two sides only share the wire protocol, not a package.
var handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLAY_TRANSCODER_PLUGIN",
	MagicCookieValue: "play",
}

const pluginName = "transcoder"

type rpcImpl interface {
	Launch(session string, args []string) error
	Stop(session string) error
	Running(session string) bool
}

type rpcPlugin struct {
	impl rpcImpl
}

func (p *rpcPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.impl}, nil
}

func (p *rpcPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return nil, nil // this binary only ever runs as a plugin server, never as the client side
}

type launchArgs struct {
	Session string
	Args    []string
}

type rpcServer struct {
	impl rpcImpl
}

func (s *rpcServer) Launch(args launchArgs, _ *struct{}) error {
	return s.impl.Launch(args.Session, args.Args)
}

func (s *rpcServer) Stop(session string, _ *struct{}) error {
	return s.impl.Stop(session)
}

func (s *rpcServer) Running(session string, running *bool) error {
	*running = s.impl.Running(session)
	return nil
}

func serve(impl rpcImpl) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: handshake,
		Plugins: map[string]goplugin.Plugin{
			pluginName: &rpcPlugin{impl: impl},
		},
	})
}
