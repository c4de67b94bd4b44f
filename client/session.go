package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hyperide/backend/internal/broker"
	"github.com/hyperide/backend/internal/protocol"
)

// Session is the websocket leg of the broadcast channel. It satisfies the
// Channel interface for outbound commands and pumps inbound broker frames
// to a handler in the order the server delivered them.
type Session struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Dial connects to the server's /ws endpoint, authenticating with the
// session token as a query parameter.
func Dial(ctx context.Context, baseURL, token string) (*Session, error) {
	endpoint, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	case "http", "":
		endpoint.Scheme = "ws"
	}
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/ws"
	query := endpoint.Query()
	query.Set("token", token)
	endpoint.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn}, nil
}

// Send publishes one command envelope.
func (s *Session) Send(action string, payload interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(protocol.CommandEnvelope{Action: action, Payload: encoded})
}

// Listen reads broadcast frames until the connection fails or closes,
// invoking handler for each frame in delivery order.
func (s *Session) Listen(handler func(broker.Message)) error {
	for {
		var message broker.Message
		if err := s.conn.ReadJSON(&message); err != nil {
			return err
		}
		handler(message)
	}
}

// Close tears down the connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
