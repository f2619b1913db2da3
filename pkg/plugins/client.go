package plugins

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// ExternalTranscoder dispenses a TranscoderImpl from a plugin binary and
// satisfies internal/play/ffmpeg.Transcoder, so the engine can use an
// out-of-process encoder the same way it uses the in-process Controller.
type ExternalTranscoder struct {
	client *plugin.Client
	impl   TranscoderImpl
}

// Dial launches binaryPath as a go-plugin child process and returns a
// Transcoder backed by it. Closing the returned *ExternalTranscoder kills
// the child process.
func Dial(binaryPath string) (*ExternalTranscoder, error) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "transcoder-plugin",
		Level:  hclog.Warn,
		Output: os.Stderr,
	})

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         pluginMap,
		Cmd:             exec.Command(binaryPath),
		Logger:          logger,
	})

	rpcClientConn, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugins: dial %s: %w", binaryPath, err)
	}

	raw, err := rpcClientConn.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugins: dispense %s: %w", binaryPath, err)
	}

	impl, ok := raw.(TranscoderImpl)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugins: %s did not dispense a TranscoderImpl", binaryPath)
	}

	return &ExternalTranscoder{client: client, impl: impl}, nil
}

// Launch ignores ctx: the RPC boundary can't carry a context, so cancelling
// a launch in flight isn't supported — Stop is the only way to tear down
// an external encoder once it's running.
func (e *ExternalTranscoder) Launch(ctx context.Context, session string, args []string) error {
	return e.impl.Launch(session, args)
}

func (e *ExternalTranscoder) Stop(session string) error {
	return e.impl.Stop(session)
}

func (e *ExternalTranscoder) Running(session string) bool {
	return e.impl.Running(session)
}

// Close kills the plugin child process.
func (e *ExternalTranscoder) Close() {
	e.client.Kill()
}
