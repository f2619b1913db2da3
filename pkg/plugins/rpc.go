package plugins

import "net/rpc"

// launchArgs bundles Launch's arguments into the single struct net/rpc
// requires per call; Stop sends the bare session id.
type launchArgs struct {
	Session string
	Args    []string
}

// rpcServer runs in the plugin (child) process and forwards net/rpc calls
// onto the real TranscoderImpl.
type rpcServer struct {
	impl TranscoderImpl
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

// rpcClient runs in the host process and implements TranscoderImpl by
// calling across the RPC connection go-plugin set up.
type rpcClient struct {
	client *rpc.Client
}

func (c *rpcClient) Launch(session string, args []string) error {
	return c.client.Call("Plugin.Launch", launchArgs{Session: session, Args: args}, &struct{}{})
}

func (c *rpcClient) Stop(session string) error {
	return c.client.Call("Plugin.Stop", session, &struct{}{})
}

func (c *rpcClient) Running(session string) bool {
	var running bool
	if err := c.client.Call("Plugin.Running", session, &running); err != nil {
		return false
	}
	return running
}
