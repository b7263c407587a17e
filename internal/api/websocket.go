package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/symptom-expert-server/internal/domain"
	"github.com/symptom-expert-server/internal/middleware"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = wsPongWait * 9 / 10
)

// handleWebSocket answers each text frame holding a DiagnosisRequest with a
// DiagnosisResponse or an APIError.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	correlationID := middleware.GetCorrelationID(c)
	log := s.logger.WithField("correlation_id", correlationID)
	log.Debug("WebSocket session opened")

	conn.SetReadLimit(maxRequestBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx := c.Request.Context()
	done := make(chan struct{})
	defer close(done)

	// WriteControl may run concurrently with the data writes below.
	go func() {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	send := func(msg interface{}) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.WithError(err).Debug("WebSocket write failed")
			return false
		}
		return true
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("WebSocket closed unexpectedly")
			}
			log.Debug("WebSocket session closed")
			return
		}
		if msgType != websocket.TextMessage {
			if !send(domain.NewAPIError(domain.ErrInvalidInput, "Expected a text frame", "", correlationID)) {
				return
			}
			continue
		}

		var req domain.DiagnosisRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			if !send(domain.NewAPIError(domain.ErrInvalidInput, "Invalid request body", err.Error(), correlationID)) {
				return
			}
			continue
		}

		var reply interface{}
		resp, err := s.engine.Diagnose(ctx, &req)
		if err != nil {
			apiErr := domain.APIErrorFrom(err, correlationID)
			if apiErr.Code == domain.ErrInternalServer {
				log.WithError(err).Error("WebSocket diagnosis failed")
			}
			reply = apiErr
		} else {
			reply = resp
		}
		if !send(reply) {
			return
		}
	}
}
