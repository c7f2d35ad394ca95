package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"

	"cryptocrash/internal/game"
)

// gameWebSocketHandler handles WebSocket connections for real-time game updates.
// Every write goes through the registered client so handler responses never
// race the hub's fan-out on the same connection.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	playerID := conn.Query("player_id", "anonymous")

	log.Printf("[WS] New connection from player: %s", playerID)

	client := s.hub.RegisterClient(conn, playerID)

	// Send initial state
	stateJSON, _ := json.Marshal(game.Envelope{
		Event: "initial_state",
		Data:  s.engine.Snapshot(),
	})
	client.Write(stateJSON)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for player %s: %v", playerID, err)
			s.hub.UnregisterClient(conn)
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var clientMsg map[string]interface{}
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}

		msgType, ok := clientMsg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "place_bet":
			amount, _ := strconv.ParseFloat(fmt.Sprintf("%v", clientMsg["usd_amount"]), 64)
			asset := fmt.Sprintf("%v", clientMsg["asset"])

			result, err := s.engine.PlaceBet(context.Background(), game.BetRequest{
				PlayerID:  playerID,
				USDAmount: amount,
				Asset:     asset,
			})
			writeWSResponse(client, "bet_result", result, err)

		case "cashout":
			betID := fmt.Sprintf("%v", clientMsg["bet_id"])

			result, err := s.engine.Cashout(context.Background(), game.CashoutRequest{
				PlayerID: playerID,
				BetID:    betID,
			})
			writeWSResponse(client, "cashout_result", result, err)

		case "ping":
			pongJSON, _ := json.Marshal(map[string]string{"event": "pong"})
			client.Write(pongJSON)
		}
	}
}

func writeWSResponse(client *game.Client, event string, result interface{}, err error) {
	env := game.Envelope{Event: event}
	if err != nil {
		env.Data = map[string]string{"error": err.Error()}
	} else {
		env.Data = result
	}
	respJSON, _ := json.Marshal(env)
	client.Write(respJSON)
}
