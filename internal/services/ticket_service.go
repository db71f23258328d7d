package services

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/wellis321/cv-app-sub000/internal/models"
)

// ErrTicketNotFound covers expired, already-redeemed and never-issued
// tickets alike; the caller cannot tell them apart and should not.
var ErrTicketNotFound = errors.New("execution ticket not found or expired")

// ErrTicketOwnerMismatch is returned when the redeeming requester is not
// the ticket's issuee. Tickets are not bearer tokens.
var ErrTicketOwnerMismatch = errors.New("execution ticket belongs to a different requester")

// TicketService holds the only short-lived server state in the AI
// subsystem: execution tickets awaiting redemption by the requester's
// device. Unredeemed tickets expire and are discarded — the server never
// possesses the in-browser model, so it never retries.
type TicketService struct {
	tickets *cache.Cache
	ttl     time.Duration
	mu      sync.Mutex // redemption must be check-and-delete atomic
}

// NewTicketService creates a ticket store with the given validity window.
func NewTicketService(ttl time.Duration) *TicketService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TicketService{
		tickets: cache.New(ttl, time.Minute),
		ttl:     ttl,
	}
}

// Issue creates a single-use ticket carrying the fully-formed prompt and
// the model runtime the requester's device must provide.
func (s *TicketService) Issue(userID, cvVariantID, runtimeKind, model, prompt string, hasJobDescription bool) *models.ExecutionTicket {
	ticket := &models.ExecutionTicket{
		ID:                uuid.NewString(),
		UserID:            userID,
		CVVariantID:       cvVariantID,
		RuntimeKind:       runtimeKind,
		Model:             model,
		Prompt:            prompt,
		HasJobDescription: hasJobDescription,
		IssuedAt:          time.Now(),
	}

	s.tickets.Set(ticket.ID, ticket, cache.DefaultExpiration)
	log.Printf("🎫 [TICKET] Issued %s for user %s (runtime %s, model %s)", ticket.ID, userID, runtimeKind, model)
	return ticket
}

// Redeem consumes a ticket. It succeeds at most once per ticket, and only
// for the requester it was issued to. After redemption (or expiry) the
// ticket id is gone; a second submission is an independent new result.
func (s *TicketService) Redeem(ticketID, userID string) (*models.ExecutionTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found := s.tickets.Get(ticketID)
	if !found {
		return nil, ErrTicketNotFound
	}

	ticket := value.(*models.ExecutionTicket)
	if ticket.UserID != userID {
		// Do not consume: the rightful owner may still redeem
		log.Printf("⚠️ [TICKET] User %s tried to redeem ticket owned by %s", userID, ticket.UserID)
		return nil, ErrTicketOwnerMismatch
	}

	s.tickets.Delete(ticketID)
	log.Printf("🎫 [TICKET] Redeemed %s (issued %s ago)", ticketID, time.Since(ticket.IssuedAt).Round(time.Second))
	return ticket, nil
}

// TTL returns the validity window tickets are issued with.
func (s *TicketService) TTL() time.Duration {
	return s.ttl
}
