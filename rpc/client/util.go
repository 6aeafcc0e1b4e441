package client

import (
	"fmt"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the remote store, the remote identifier map and the client with composition pattern
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request on the given channel and returns the checked response
func (a *rpcClientAdapter) invoke(channel transport.Channel, req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(func(b []byte) ([]byte, error) {
		return a.transport.Send(channel, b)
	}, req, a.serializer)
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a send function, a request message and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type
func invokeRPCRequest(send transport.SendFunc, req *common.Message, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := send(reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	err = serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("RPC %s - Error: %s", req.MsgType, err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("RPC %s - Error: %s", req.MsgType, resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC %s - Unexpected message type: %s", req.MsgType, resp.MsgType)
	}

	// Return the response
	return resp, nil
}
