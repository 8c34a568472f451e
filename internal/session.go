package internal

import "fmt"

// Phase is the coarse session state shown to the user.
type Phase int

const (
	PhaseUnauthenticated Phase = iota
	PhaseInLobby
	PhaseInRoom
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseInLobby:
		return "in-lobby"
	case PhaseInRoom:
		return "in-room"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session is the single mutable state owned by the coordinator. Room is only
// meaningful in PhaseInRoom. Generation changes on every join and leave so
// callbacks started under an older room can recognise themselves as stale.
type Session struct {
	Phase      Phase
	Username   string
	Room       string
	Generation uint64
}

// InRoom reports whether the session is joined to the named room.
func (s Session) InRoom(room string) bool {
	return s.Phase == PhaseInRoom && s.Room == room
}

func (s Session) enterLobby(username string) Session {
	return Session{Phase: PhaseInLobby, Username: username, Generation: s.Generation}
}

func (s Session) enterRoom(room string) Session {
	return Session{Phase: PhaseInRoom, Username: s.Username, Room: room, Generation: s.Generation + 1}
}

func (s Session) leaveRoom() Session {
	return Session{Phase: PhaseInLobby, Username: s.Username, Generation: s.Generation + 1}
}

func (s Session) reset() Session {
	return Session{Phase: PhaseUnauthenticated, Generation: s.Generation + 1}
}

func (s Session) String() string {
	if s.Phase == PhaseInRoom {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Room)
	}
	return s.Phase.String()
}
