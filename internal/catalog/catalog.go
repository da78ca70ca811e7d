package catalog

import (
	"net/http"
	"sync"

	"dmrelay/internal/models"
)

// Catalog holds the ordered candidate lists for each logical operation.
// The order is the dispatcher's try order; a diagnostic report may promote
// verified-working send formats to the front, but every scope-eligible
// candidate stays in the list.
type Catalog struct {
	mu       sync.RWMutex
	send     []models.EndpointCandidate
	fetch    []models.EndpointCandidate
	markRead []models.EndpointCandidate
}

// Default returns the catalog in its built-in priority order. The last send
// candidate is the raw low-level escape hatch, folded in as an ordinary
// low-priority entry rather than a separate code path.
func Default() *Catalog {
	return &Catalog{
		send: []models.EndpointCandidate{
			{
				Operation:   models.OpSend,
				Description: "send: flat recipientId/content",
				Method:      http.MethodPost,
				Route:       "/api/messages/send",
				Scope:       models.RoleAny,
				Shape:       flatRecipientShape,
			},
			{
				Operation:   models.OpSend,
				Description: "send: receiver/message",
				Method:      http.MethodPost,
				Route:       "/api/messages/send",
				Scope:       models.RoleAny,
				Shape:       receiverMessageShape,
			},
			{
				Operation:   models.OpSend,
				Description: "send: nested $oid recipient",
				Method:      http.MethodPost,
				Route:       "/api/messages",
				Scope:       models.RoleAny,
				Shape:       nestedOIDShape,
			},
			{
				Operation:   models.OpSend,
				Description: "send: staff route, flat recipientId",
				Method:      http.MethodPost,
				Route:       "/api/staff/messages/send",
				Scope:       models.RoleStaff,
				Shape:       flatRecipientShape,
			},
			{
				Operation:   models.OpSend,
				Description: "send: raw fallback to/content",
				Method:      http.MethodPost,
				Route:       "/api/messages/send-raw",
				Scope:       models.RoleAny,
				Shape:       toContentShape,
			},
		},
		fetch: []models.EndpointCandidate{
			{
				Operation:   models.OpFetch,
				Description: "fetch: conversation path",
				Method:      http.MethodGet,
				Route:       "/api/messages/conversation/{peer}",
				Scope:       models.RoleAny,
			},
			{
				Operation:   models.OpFetch,
				Description: "fetch: query parameter",
				Method:      http.MethodGet,
				Route:       "/api/messages?with={peer}",
				Scope:       models.RoleAny,
			},
			{
				Operation:   models.OpFetch,
				Description: "fetch: staff conversation path",
				Method:      http.MethodGet,
				Route:       "/api/staff/messages/conversation/{peer}",
				Scope:       models.RoleStaff,
			},
		},
		markRead: []models.EndpointCandidate{
			{
				Operation:   models.OpMarkRead,
				Description: "mark-read: peer path",
				Method:      http.MethodPut,
				Route:       "/api/messages/read/{peer}",
				Scope:       models.RoleAny,
			},
			{
				Operation:   models.OpMarkRead,
				Description: "mark-read: senderId body",
				Method:      http.MethodPost,
				Route:       "/api/messages/mark-read",
				Scope:       models.RoleAny,
				Shape:       senderPeerShape,
			},
			{
				Operation:   models.OpMarkRead,
				Description: "mark-read: staff peer path",
				Method:      http.MethodPut,
				Route:       "/api/staff/messages/read/{peer}",
				Scope:       models.RoleStaff,
			},
		},
	}
}

// Candidates returns the ordered, scope-filtered candidate list for an
// operation. The returned slice is a copy.
func (c *Catalog) Candidates(op models.Operation, role models.Role) []models.EndpointCandidate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var source []models.EndpointCandidate
	switch op {
	case models.OpSend:
		source = c.send
	case models.OpFetch:
		source = c.fetch
	case models.OpMarkRead:
		source = c.markRead
	}

	result := make([]models.EndpointCandidate, 0, len(source))
	for _, cand := range source {
		if cand.EligibleFor(role) {
			result = append(result, cand)
		}
	}
	return result
}

// ApplyReport reorders the send candidates so formats the report verified
// as working come first, in the report's rank order. Candidates absent from
// the report keep their relative order behind the verified ones; nothing is
// removed. This is the system's only adaptive behavior and it runs only
// when explicitly invoked.
func (c *Catalog) ApplyReport(report *models.DiagnosticReport) {
	if report == nil || len(report.SuccessfulFormats) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rank := make(map[string]int, len(report.SuccessfulFormats))
	for i, desc := range report.SuccessfulFormats {
		rank[desc] = i
	}

	verified := make([]models.EndpointCandidate, 0, len(c.send))
	rest := make([]models.EndpointCandidate, 0, len(c.send))
	for _, cand := range c.send {
		if _, ok := rank[cand.Description]; ok {
			verified = append(verified, cand)
		} else {
			rest = append(rest, cand)
		}
	}

	// Verified candidates follow the report's ranking; a stable insertion
	// sort is enough at this size.
	for i := 1; i < len(verified); i++ {
		for j := i; j > 0 && rank[verified[j].Description] < rank[verified[j-1].Description]; j-- {
			verified[j], verified[j-1] = verified[j-1], verified[j]
		}
	}

	c.send = append(verified, rest...)
}
