// Package turn runs an optional TURN relay next to the signaling server so
// that peers behind symmetric NATs can still connect.
package turn

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/HMasataka/parley/pkg/config"
	"github.com/pion/turn/v2"
)

const (
	defaultMinPort = 49152
	defaultMaxPort = 65535
)

var ErrDisabled = errors.New("turn server is disabled")

type Server struct {
	server *turn.Server
	conn   net.PacketConn
	logger *slog.Logger
}

// NewServer listens on c.Address and starts relaying.
func NewServer(c config.TurnConfig, logger *slog.Logger) (*Server, error) {
	if !c.Enabled {
		return nil, ErrDisabled
	}

	users, err := c.Users()
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp4", c.Address)
	if err != nil {
		return nil, fmt.Errorf("listen turn: %w", err)
	}

	minPort, maxPort := uint16(defaultMinPort), uint16(defaultMaxPort)
	if len(c.PortRange) == 2 {
		minPort, maxPort = c.PortRange[0], c.PortRange[1]
	}

	publicIP := net.ParseIP(c.PublicIP)
	if publicIP == nil {
		publicIP = net.IPv4(127, 0, 0, 1)
	}

	server, err := turn.NewServer(turn.ServerConfig{
		Realm:       c.Realm,
		AuthHandler: authHandler(c.Realm, users, logger),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: conn,
				RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
					RelayAddress: publicIP,
					Address:      "0.0.0.0",
					MinPort:      minPort,
					MaxPort:      maxPort,
				},
			},
		},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("start turn: %w", err)
	}

	logger.Info("turn server started",
		slog.String("addr", conn.LocalAddr().String()),
		slog.String("realm", c.Realm),
		slog.Int("users", len(users)),
	)

	return &Server{server: server, conn: conn, logger: logger}, nil
}

func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Server) Close() error {
	return s.server.Close()
}

func authHandler(realm string, users map[string]string, logger *slog.Logger) turn.AuthHandler {
	keys := make(map[string][]byte, len(users))
	for user, pass := range users {
		keys[user] = turn.GenerateAuthKey(user, realm, pass)
	}

	return func(username, _ string, srcAddr net.Addr) ([]byte, bool) {
		key, ok := keys[username]
		if !ok {
			logger.Warn("turn authentication failed", slog.String("user", username), slog.String("src", srcAddr.String()))
		}
		return key, ok
	}
}
