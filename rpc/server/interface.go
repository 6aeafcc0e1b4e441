package server

import (
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request of peer and returns a response.
	// If an error occurs, it should be set in the response
	Handle(peer transport.PeerID, req *common.Message) (resp *common.Message)

	// MessageTypes returns the request types the adapter handles
	MessageTypes() []common.MessageType
}
