package handlers

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/agent"
	"github.com/shopsight/backend/internal/storage/sqlite"
	"github.com/shopsight/backend/pkg/crypto"
	"github.com/shopsight/backend/pkg/logger"
)

type WebSocketHandler struct {
	db       *sqlite.Client
	sealer   *crypto.TokenSealer
	newAgent AgentFactory
}

func NewWebSocketHandler(db *sqlite.Client, sealer *crypto.TokenSealer, factory AgentFactory) *WebSocketHandler {
	return &WebSocketHandler{
		db:       db,
		sealer:   sealer,
		newAgent: factory,
	}
}

// HandleConnection serves one merchant session: each inbound question is
// answered with a live stream of reasoning steps, answer chunks, and a
// final complete message carrying the whole envelope.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type     string `json:"type"`
			StoreID  string `json:"store_id"`
			Question string `json:"question"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "question" {
			continue
		}

		logger.Info("Processing WebSocket question", zap.String("store", msg.StoreID))

		err = h.streamAnswer(c, msg.StoreID, msg.Question)
		if err != nil {
			logger.Error("Failed to stream answer", zap.Error(err))
		}
	}
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, storeID, question string) error {
	if !storeIDPattern.MatchString(storeID) {
		return h.sendError(c, "Invalid store_id format. Must be a valid Shopify domain (e.g., store-name.myshopify.com)")
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return h.sendError(c, "Question cannot be empty")
	}

	store, err := h.db.GetStore(storeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return h.sendError(c, "Store not found. Please install the app first.")
		}
		return h.sendError(c, "Failed to look up store")
	}

	accessToken, err := h.sealer.Open(store.SealedToken)
	if err != nil {
		logger.Error("Failed to unseal store token", zap.String("store", storeID), zap.Error(err))
		return h.sendError(c, "Failed to access store credentials")
	}

	if err := h.sendMessage(c, "status", "Processing question..."); err != nil {
		return err
	}

	var streamErr error
	envelope := h.newAgent(store.ShopDomain, accessToken).ProcessQuestionStreaming(
		context.Background(),
		question,
		func(step string) {
			if streamErr == nil {
				streamErr = h.sendMessage(c, "step", step)
			}
		},
	)
	if streamErr != nil {
		return streamErr
	}

	words := splitIntoWords(envelope.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		if err := h.sendMessage(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, envelope)
}

func (h *WebSocketHandler) sendMessage(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, envelope agent.Envelope) error {
	msg := map[string]interface{}{
		"type":            "complete",
		"answer":          envelope.Answer,
		"confidence":      envelope.Confidence,
		"query_used":      envelope.QueryUsed,
		"reasoning_steps": envelope.ReasoningSteps,
		"timestamp":       envelope.Timestamp,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	return c.WriteJSON(msg)
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
