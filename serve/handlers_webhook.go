package serve

import (
	"io"
	"net/http"

	"github.com/everydev1618/pmc/bot"
	"github.com/everydev1618/pmc/whatsapp"
)

const maxWebhookBody = 1 << 20

// handleVerify answers the Meta webhook verification handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	challenge, ok := whatsapp.VerifySubscription(r.URL.Query(), s.cfg.VerifyToken)
	if !ok {
		s.logger.Warn("webhook verification failed", "mode", r.URL.Query().Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	s.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// handleWebhook accepts message deliveries. Messages are queued and the
// delivery acknowledged at once; Meta retries anything not answered 200,
// so a full queue answers 503.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if s.cfg.AppSecret != "" && !whatsapp.ValidSignature(body, r.Header.Get(whatsapp.SignatureHeader), s.cfg.AppSecret) {
		s.logger.Warn("webhook signature mismatch", "ip", s.proxies.clientIP(r))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	msgs, err := whatsapp.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	dropped := 0
	for _, m := range msgs {
		in := bot.Inbound{
			Channel:    bot.ChannelWhatsApp,
			UserID:     m.From,
			MessageID:  m.ID,
			Text:       m.Text,
			ButtonID:   m.ReplyID,
			Name:       m.Name,
			ReceivedAt: m.Received,
		}
		if s.dispatcher == nil {
			if err := s.engine.Handle(r.Context(), in); err != nil {
				s.logger.Error("message handling failed", "user_id", in.UserID, "error", err)
			}
			continue
		}
		if err := s.dispatcher.Submit(in); err != nil {
			s.logger.Warn("webhook message deferred", "user_id", in.UserID, "message_id", in.MessageID, "error", err)
			dropped++
		}
	}
	if dropped > 0 {
		// Meta redelivers; messages already queued are deduplicated by id.
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "busy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
