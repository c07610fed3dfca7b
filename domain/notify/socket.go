package notify

import (
	"context"
	"fmt"
	"log/slog"

	socketio "github.com/googollee/go-socket.io"
)

const (
	socketNamespace = "/"
	registerEvent   = "register"
)

func userRoom(userID string) string { return "user:" + userID }

// NewSocketServer builds a socket.io server where clients join their own
// room by emitting "register" with their user id.
func NewSocketServer(logger *slog.Logger) *socketio.Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := socketio.NewServer(nil)

	server.OnConnect(socketNamespace, func(c socketio.Conn) error {
		logger.Debug("socket connected", "socket_id", c.ID())
		return nil
	})

	server.OnEvent(socketNamespace, registerEvent, func(c socketio.Conn, userID string) {
		if userID == "" {
			return
		}
		c.Join(userRoom(userID))
		logger.Debug("socket registered", "socket_id", c.ID(), "user_id", userID)
	})

	server.OnError(socketNamespace, func(c socketio.Conn, err error) {
		logger.Warn("socket error", "error", err)
	})

	server.OnDisconnect(socketNamespace, func(c socketio.Conn, reason string) {
		logger.Debug("socket disconnected", "socket_id", c.ID(), "reason", reason)
	})

	return server
}

type RoomBroadcaster interface {
	BroadcastToRoom(namespace string, room, event string, args ...interface{}) bool
}

// SocketNotifier emits to every connection a user registered, on any tab or device.
type SocketNotifier struct {
	server RoomBroadcaster
}

func NewSocketNotifier(server RoomBroadcaster) *SocketNotifier {
	return &SocketNotifier{server: server}
}

func (s *SocketNotifier) Notify(_ context.Context, userID string, event Event, payload interface{}) error {
	if !s.server.BroadcastToRoom(socketNamespace, userRoom(userID), string(event), payload) {
		return fmt.Errorf("socket namespace %q not served", socketNamespace)
	}
	return nil
}
