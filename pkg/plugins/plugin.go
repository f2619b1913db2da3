// Package plugins is the go-plugin bridge for an out-of-process Transcoder.
// The in-process default lives in internal/play/ffmpeg.Controller; this
// package lets a deployment swap in an external encoder process instead,
// dispensed and supervised over the same net/rpc protocol go-plugin uses
// for its classic (non-gRPC) plugins.
package plugins

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Handshake is the magic-cookie exchange go-plugin performs before trusting
// a child process claims to speak this protocol.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLAY_TRANSCODER_PLUGIN",
	MagicCookieValue: "play",
}

// pluginName is the single key both ends of the handshake dispense under.
const pluginName = "transcoder"

// TranscoderImpl is what a plugin binary's main() implements — the same
// shape as internal/play/ffmpeg.Transcoder, minus the context (an RPC
// boundary can't carry one; Stop is the cancellation path instead).
type TranscoderImpl interface {
	Launch(session string, args []string) error
	Stop(session string) error
	Running(session string) bool
}

// TranscoderPlugin implements plugin.Plugin, letting go-plugin dispense a
// TranscoderImpl over net/rpc.
type TranscoderPlugin struct {
	Impl TranscoderImpl
}

func (p *TranscoderPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *TranscoderPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

var pluginMap = map[string]plugin.Plugin{
	pluginName: &TranscoderPlugin{},
}

// Serve blocks, running impl as a go-plugin child process. A plugin
// binary's main() is just:
//
//	func main() { plugins.Serve(myTranscoder{}) }
func Serve(impl TranscoderImpl) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			pluginName: &TranscoderPlugin{Impl: impl},
		},
	})
}
