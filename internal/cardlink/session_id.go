package cardlink

import (
	"github.com/cortex-x/go-cardlink-client/internal/infra/websocket"
	"github.com/rs/zerolog/log"
)

// SessionIDStore holds the token a socket presents when it reconnects.
type SessionIDStore interface {
	SessionID() string
	SetSessionID(id string)
}

// TrackSessionID returns a handler that keeps store in sync with every
// SessionInformation the service pushes, so a reconnect rejoins the same
// server side session.
func TrackSessionID(store SessionIDStore) websocket.Handler {
	return websocket.HandlerFunc(func(msg string) func() {
		env, err := Decode(msg)
		if err != nil {
			return nil
		}
		info, ok := env.Payload.(*SessionInformation)
		if !ok {
			return nil
		}
		return func() {
			if current := store.SessionID(); current != info.WebSocketID {
				log.Info().Str("previous", current).Str("ws_session_id", info.WebSocketID).Msg("websocket session id changed")
				store.SetSessionID(info.WebSocketID)
			}
		}
	})
}
