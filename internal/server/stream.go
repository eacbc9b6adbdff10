package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/chat"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventHeartbeat    = "heartbeat"
	streamHeartbeatInterval = 25 * time.Second
)

// handleChatStream serves the room as server-sent events. Every "snapshot"
// event carries the full ordered room list.
func (h *httpHandler) handleChatStream(c *gin.Context) {
	roomCode := c.Param("code")
	updates := make(chan []chat.Message, 1)
	handle, err := h.chatRooms.Subscribe(roomCode, func(messages []chat.Message) {
		select {
		case updates <- messages:
		default:
			select {
			case <-updates:
			default:
			}
			updates <- messages
		}
	})
	if err != nil {
		status, code := chatErrorStatus(err)
		c.JSON(status, gin.H{"error": code})
		return
	}
	defer h.chatRooms.Unsubscribe(roomCode, handle)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case messages := <-updates:
			if messages == nil {
				messages = []chat.Message{}
			}
			c.SSEvent(chat.FrameTypeSnapshot, chat.StreamFrame{
				Type:     chat.FrameTypeSnapshot,
				RoomCode: roomCode,
				Messages: messages,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"timestamp": h.clock().UTC().Unix()})
			return true
		}
	})
	h.logger.Debug("chat stream closed", zap.String("room_code", roomCode))
}
