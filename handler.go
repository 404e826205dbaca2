package nbserver

// Submitter queues outbound data on a connection. It is the only way a
// Handler feeds data back into the reactor.
type Submitter interface {
	Submit(h Handle, data []byte) error
}

// Handler receives connection events. The reactor calls it synchronously from
// its own goroutine; implementations must not block and must not keep the byte
// slices they are given past the call.
type Handler interface {
	// OnConnect is called once a connection got a slot.
	OnConnect(h Handle)
	// OnDisconnect is called when the peer closed the connection.
	OnDisconnect(h Handle)
	// OnRecvError is called before a connection is dropped because recv failed.
	OnRecvError(h Handle, err error)
	// OnRecvOk hands over the bytes of one recv.
	OnRecvOk(s Submitter, h Handle, data []byte)
	// OnSentError is called before a connection is dropped because send failed.
	OnSentError(h Handle, err error)
	// OnSentOk reports the bytes of one send. It runs after the outbound state
	// was advanced, so a fully drained connection already accepts a new Submit.
	OnSentOk(s Submitter, h Handle, sent []byte)
}

// NopHandler ignores every event. Embed it to implement a subset of Handler.
type NopHandler struct{}

func (NopHandler) OnConnect(Handle)                   {}
func (NopHandler) OnDisconnect(Handle)                {}
func (NopHandler) OnRecvError(Handle, error)          {}
func (NopHandler) OnRecvOk(Submitter, Handle, []byte) {}
func (NopHandler) OnSentError(Handle, error)          {}
func (NopHandler) OnSentOk(Submitter, Handle, []byte) {}
