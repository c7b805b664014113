package serial

// Protocol receives the events of one Transport. All methods run on the loop
// goroutine.
//
// ConnectionMade is called exactly once and precedes every other callback.
// ConnectionLost is called exactly once and is the last. PauseWriting and
// ResumeWriting alternate, starting with PauseWriting.
type Protocol interface {
	ConnectionMade(t *Transport)
	// DataReceived gets a slice the protocol may keep.
	DataReceived(data []byte)
	// ConnectionLost reports nil for a deliberate close and the cause
	// otherwise.
	ConnectionLost(err error)
	PauseWriting()
	ResumeWriting()
}

// BaseProtocol implements Protocol with no-ops. Embed it to override only
// the callbacks you need.
type BaseProtocol struct{}

func (BaseProtocol) ConnectionMade(*Transport) {}
func (BaseProtocol) DataReceived([]byte)       {}
func (BaseProtocol) ConnectionLost(error)      {}
func (BaseProtocol) PauseWriting()             {}
func (BaseProtocol) ResumeWriting()            {}
