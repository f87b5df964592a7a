// internal/handlers/transcript.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/smallbets/smallbets/internal/automation"
	"github.com/smallbets/smallbets/internal/errs"
)

type transcriptRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type transcriptResponse struct {
	Automation automation.Result `json:"automation"`
}

// TranscriptHandler feeds a transcript line through the recognizer and
// applies the resulting proposal via the automation gateway. The response
// always describes what happened, including why nothing did; a transcript
// submission never fails on a bad proposal.
func (s *Server) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var req transcriptRequest
	if err := decodeBody(r, &req); err != nil {
		record("submitTranscript", err)
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		err := errs.E(errs.InvalidArgument, "transcript text must not be empty")
		record("submitTranscript", err)
		writeError(w, err)
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}

	proposal, err := s.Recognizer.Recognize(r.Context(), req.Text, req.Source)
	if err != nil {
		// A dead recognizer degrades to "nothing recognized", not a 5xx.
		s.Logger.Warnf("recognizer failed for room %s: %v", code, err)
		proposal = automation.Proposal{Action: automation.ActionIgnore}
	}

	result := s.Gateway.Apply(r.Context(), code, proposal)
	record("submitTranscript", nil)
	writeJSON(w, http.StatusOK, transcriptResponse{Automation: result})
}
