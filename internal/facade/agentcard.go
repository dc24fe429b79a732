package facade

import (
	"encoding/json"
	"net/http"
)

// handleAgentCard serves GET /.well-known/agent.json, per spec.md §4.7.
// Static except for the dynamic url, derived from the configured public URL
// or, failing that, the inbound request.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	url := s.cfg.PublicURL
	if url == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		url = scheme + "://" + r.Host
	}

	card := AgentCard{
		Name:        s.cfg.AgentName,
		Description: s.cfg.AgentDescription,
		Version:     s.cfg.AgentVersion,
		URL:         url,
		Capabilities: AgentCapabilities{
			Streaming: true,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}
