// Package conductor declares the native simulation conductor collaborator
// interface (§1, §4.D): "the native conductor, exposing
// pdu_read/pdu_create/service_* operations". This module never
// implements a conductor itself — Handle is the seam the shared-memory
// transport is built against.
package conductor

// Handle is the opaque native conductor collaborator. A real
// implementation wraps a cgo or shared-memory binding; this module only
// consumes the interface.
type Handle interface {
	// PduRead returns the raw bytes currently stored for (robot, channelID).
	PduRead(robotName string, channelID int32) ([]byte, bool)

	// PduCreate declares a channel for read or write access, depending on
	// forWrite.
	PduCreate(robotName string, channelID int32, pduSize int, forWrite bool) error

	// PduWrite writes body to an already-declared write channel.
	PduWrite(robotName string, channelID int32, body []byte) error

	// ServiceRegisterClient registers an RPC client against serviceName
	// and returns the (requestChannelID, responseChannelID) pair the
	// conductor assigned.
	ServiceRegisterClient(serviceName, clientName string) (reqCh, resCh int32, err error)

	// ServiceGetRequest polls for a pending request body on channelID.
	ServiceGetRequest(channelID int32) ([]byte, bool)

	// ServicePutResponse writes a response body to channelID.
	ServicePutResponse(channelID int32, body []byte) error

	// ServiceGetChannelID resolves the request/response channel pair
	// assigned to (serviceName, clientName) during registration.
	ServiceGetChannelID(serviceName, clientName string) (reqCh, resCh int32, ok bool)
}
