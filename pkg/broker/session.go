package broker

import "github.com/backkem/screenview/pkg/protocol/svsc"

// session pairs two connections. Both members receive the same data.
type session struct {
	data    svsc.SessionData
	members [2]ConnID // initiator, responder
}

func (s *session) other(id ConnID) ConnID {
	if s.members[0] == id {
		return s.members[1]
	}
	return s.members[0]
}
