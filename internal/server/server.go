package server

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"polybot/internal/bot"
	"polybot/internal/config"
	"polybot/internal/observability"
	"polybot/internal/platform/telegram"
	"polybot/internal/restart"
	"polybot/internal/webhook"
)

const (
	maxUpdateBytes  = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Dispatcher turns an inbound message into reply text.
type Dispatcher interface {
	Reply(ctx context.Context, msg bot.Message) string
}

// Replier delivers reply text to a chat.
type Replier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type Server struct {
	cfg        *config.Config
	mux        *http.ServeMux
	dispatcher Dispatcher
	tg         Replier
	dedup      *telegram.Dedup
	restart    *restart.Coordinator
	metrics    *observability.Metrics
	log        *observability.Logger

	// listen opens the raw TCP socket; replaced in tests to observe binds.
	listen func(network, address string) (net.Listener, error)
	// onBound is called with each freshly bound listener's address.
	onBound         func(net.Addr)
	shutdownTimeout time.Duration
}

func New(cfg *config.Config, dispatcher Dispatcher, tg Replier, coord *restart.Coordinator, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:             cfg,
		mux:             http.NewServeMux(),
		dispatcher:      dispatcher,
		tg:              tg,
		dedup:           telegram.NewDedup(5 * time.Minute),
		restart:         coord,
		metrics:         metrics,
		log:             observability.Component("server"),
		listen:          net.Listen,
		shutdownTimeout: shutdownTimeout,
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST "+webhook.Path, s.handleWebhook)
	return s
}

// Handler is the full HTTP handler chain served behind TLS.
func (s *Server) Handler() http.Handler {
	return observability.RecoverMiddleware("server", s.metrics, observability.RequestMiddleware(s.metrics, s.mux))
}

func (s *Server) Close() {
	s.dedup.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "webhook.delivery")
	defer span.End()

	// signature verification (if webhook secret is configured)
	if s.cfg.TelegramWebhookSecret != "" {
		sig := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if !verifySignature(sig, s.cfg.TelegramWebhookSecret) {
			s.log.Warn(ctx, "webhook: invalid secret token", "remote_addr", r.RemoteAddr)
			s.metrics.Delivery("unauthorized")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var update telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		s.log.Warn(ctx, "webhook: bad json", "error", err.Error())
		s.metrics.Delivery("bad_request")
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("update_id", update.UpdateID))
	ctx = observability.WithUpdateID(ctx, update.UpdateID)

	if s.dedup.IsDuplicate(update.UpdateID) {
		s.metrics.Delivery("duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	// only text messages are answered
	if update.Message == nil || update.Message.Text == "" {
		s.metrics.Delivery("ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	msg := bot.Message{ChatID: update.Message.Chat.ID, Text: update.Message.Text}
	s.log.Info(ctx, "webhook: message received", "chat_id", msg.ChatID, "text", truncate(msg.Text, 80))

	reply := s.dispatcher.Reply(ctx, msg)
	s.metrics.Command(commandLabel(msg.Text))

	if err := s.tg.SendMessage(ctx, msg.ChatID, reply); err != nil {
		// answering non-2xx would make the platform redeliver the update
		s.log.Error(ctx, "webhook: send reply failed", "chat_id", msg.ChatID, "error", err.Error())
		observability.SpanError(span, err)
		s.metrics.Delivery("reply_failed")
		w.WriteHeader(http.StatusOK)
		return
	}
	s.metrics.Delivery("ok")
	w.WriteHeader(http.StatusOK)
}

func commandLabel(text string) string {
	cmd := bot.Command(text)
	if bot.Known(cmd) {
		return cmd
	}
	return "other"
}

func verifySignature(got, secret string) bool {
	// Telegram sends the secret token as-is in the header, not HMAC.
	// We just do a constant-time compare.
	return hmac.Equal([]byte(got), []byte(secret))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
