// Package remote implements the client boundary to the remote shopping agent.
package remote

import (
	"strings"

	"github.com/shoplens/stylist/internal/domain"
)

// Response types returned by the agent. The set is open-ended: any type with
// the pending suffix marks a long-running operation to be tracked via the
// status endpoint.
const (
	TypeText            = "text"
	TypeSearchResults   = "search_results"
	TypeCartResult      = "cart_result"
	TypeOrderResult     = "order_result"
	TypeAnalysisPending = "analysis_pending"
	TypeFittingPending  = "fitting_pending"

	pendingSuffix = "_pending"
)

// AgentMessage is one logical answer from the agent, either immediate or a
// pending-operation marker.
type AgentMessage struct {
	Type string      `json:"type"`
	Text string      `json:"text"`
	Data MessageData `json:"data"`
}

// MessageData carries the structured part of an agent answer.
type MessageData struct {
	Status     string          `json:"status,omitempty"`
	AnalysisID int64           `json:"analysis_id,omitempty"`
	FittingID  int64           `json:"fitting_id,omitempty"`
	FittingIDs []int64         `json:"fitting_ids,omitempty"`
	Products   []ProductRecord `json:"products,omitempty"`
	ResultURL  string          `json:"result_url,omitempty"`
}

// Pending reports whether the message is a pending-operation marker.
func (m AgentMessage) Pending() bool {
	return strings.HasSuffix(m.Type, pendingSuffix)
}

// PendingOperation extracts the kind and id of the tracked operation a
// pending marker refers to. Returns false for non-pending messages and for
// pending markers that carry no trackable id.
func (m AgentMessage) PendingOperation() (domain.OperationKind, int64, bool) {
	if !m.Pending() {
		return "", 0, false
	}

	switch strings.TrimSuffix(m.Type, pendingSuffix) {
	case "analysis":
		if m.Data.AnalysisID != 0 {
			return domain.OperationAnalysis, m.Data.AnalysisID, true
		}
	case "fitting":
		if m.Data.FittingID != 0 {
			return domain.OperationFitting, m.Data.FittingID, true
		}
		if len(m.Data.FittingIDs) > 0 {
			return domain.OperationFitting, m.Data.FittingIDs[0], true
		}
	}
	return "", 0, false
}

// ProductRecord is the union of the product shapes the agent emits.
// Chat-originated records use name/product_url, analysis-originated ones use
// title, catalog-originated ones use thumbnail_url; conversion to the display
// shape happens in one place (project.ToDisplayCandidate).
type ProductRecord struct {
	ID           int64               `json:"id,omitempty"`
	Brand        string              `json:"brand,omitempty"`
	Name         string              `json:"name,omitempty"`
	Title        string              `json:"title,omitempty"`
	Price        int64               `json:"price,omitempty"`
	ImageURL     string              `json:"image_url,omitempty"`
	ThumbnailURL string              `json:"thumbnail_url,omitempty"`
	SourceURL    string              `json:"source_url,omitempty"`
	ProductURL   string              `json:"product_url,omitempty"`
	Sizes        []domain.SizeOption `json:"sizes,omitempty"`
	MatchScore   *float64            `json:"match_score,omitempty"`
	Index        *int                `json:"index,omitempty"`
}

// TurnResponse is the agent's answer to one conversation turn. The session id
// it carries is the source of truth for conversation continuity.
type TurnResponse struct {
	SessionID string       `json:"session_id"`
	Response  AgentMessage `json:"response"`
}

// FittingJob is the agent's acknowledgement of a fitting request.
type FittingJob struct {
	FittingID int64  `json:"fitting_id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
}

// FittingStatus is one observation of a fitting job's progress.
type FittingStatus struct {
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	ResultURL string  `json:"result_url,omitempty"`
}

// FittingResult is the terminal artifact of a successful fitting job.
type FittingResult struct {
	ResultURL string `json:"result_url"`
}
