package room

import (
	"sync"
	"time"
)

const writeWait = 10 * time.Second

// Socket is the transport half of a connection. The websocket layer wraps
// its real connection in this; tests substitute a recording fake.
type Socket interface {
	Write(data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live session bound to exactly one game and one role. It
// tracks how much of the game's event log and chat transcript has already
// been delivered so rejoins and broadcasts only carry the unseen suffix.
type Conn struct {
	ID       string
	GameID   int64
	TitleID  string
	UserID   int64
	UserName string
	Role     string

	writeMu sync.Mutex
	socket  Socket

	cursorMu   sync.Mutex
	logCursor  int
	chatCursor int
}

func NewConn(id string, gameID int64, titleID string, userID int64, userName, role string, socket Socket) *Conn {
	return &Conn{
		ID:       id,
		GameID:   gameID,
		TitleID:  titleID,
		UserID:   userID,
		UserName: userName,
		Role:     role,
		socket:   socket,
	}
}

// Send writes one message to the socket under the connection write lock.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.Write(data)
}

func (c *Conn) Close() {
	c.socket.Close()
}

// LogCursor returns the count of log lines already delivered.
func (c *Conn) LogCursor() int {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.logCursor
}

// SetLogCursor records the delivered log length. It is an absolute set:
// a restored state with a shorter log pulls the cursor back down.
func (c *Conn) SetLogCursor(n int) {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	c.logCursor = n
}

// ResetLogCursor zeroes the cursor so the next delivery carries the whole
// log from index 0. Used on restart.
func (c *Conn) ResetLogCursor() {
	c.SetLogCursor(0)
}

// ChatCursor returns the count of chat entries already delivered.
func (c *Conn) ChatCursor() int {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.chatCursor
}

// SetChatCursor rewinds or advances the chat cursor; negative values clamp
// to zero. Used by getchat on reconnect.
func (c *Conn) SetChatCursor(n int) {
	if n < 0 {
		n = 0
	}
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	c.chatCursor = n
}
