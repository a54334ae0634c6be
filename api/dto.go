/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All monetary amounts are serialized as decimal strings ("93.00"), never
  floats. Clients that need arithmetic should parse them with a decimal
  library on their side.

TYPES:
  Batches:
    BatchDTO

  Managers:
    ManagerDTO

  Earnings:
    EarningsDTO

  Bonuses:
    BonusDTO, AwardBonusRequest

  Genealogy:
    EdgeDTO, SaveEdgeRequest, UpdateEdgeRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain entities these wrap
*/
package api

import (
	"time"

	"github.com/warp/commission-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// BatchDTO represents an upload batch in API responses.
type BatchDTO struct {
	ID            string `json:"id"`
	Period        string `json:"period"`
	Source        string `json:"source"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	TotalRows     int    `json:"total_rows"`
	ProcessedRows int    `json:"processed_rows"`
	SkippedRows   int    `json:"skipped_rows"`
	Error         string `json:"error,omitempty"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     string `json:"created_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// ManagerDTO represents a manager in API responses.
type ManagerDTO struct {
	ID            string `json:"id"`
	Handle        string `json:"handle"`
	DisplayName   string `json:"display_name"`
	Type          string `json:"type"`
	LifetimeTotal string `json:"lifetime_total"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// EarningsDTO represents a manager's aggregated earnings for a period.
type EarningsDTO struct {
	ManagerID        string `json:"manager_id"`
	Period           string `json:"period"`
	BatchID          string `json:"batch_id"`
	BaseCommission   string `json:"base_commission"`
	MilestoneBonuses string `json:"milestone_bonuses"`
	ExtraBonuses     string `json:"extra_bonuses"`
	TotalEarnings    string `json:"total_earnings"`
	GrossRevenue     string `json:"gross_revenue"`
	TotalDeductions  string `json:"total_deductions"`
	NetRevenue       string `json:"net_revenue"`
	TransactionCount int    `json:"transaction_count"`
	CreatorCount     int    `json:"creator_count"`
	Status           string `json:"status"`
}

// BonusDTO represents a bonus in API responses.
type BonusDTO struct {
	ID               string `json:"id"`
	ManagerID        string `json:"manager_id"`
	Period           string `json:"period"`
	Type             string `json:"type"`
	Amount           string `json:"amount"`
	BatchID          string `json:"batch_id,omitempty"`
	RelatedManagerID string `json:"related_manager_id,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// AwardBonusRequest is the request to grant a manual bonus.
type AwardBonusRequest struct {
	ManagerID string `json:"manager_id"`
	Period    string `json:"period"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

// EdgeDTO represents a genealogy edge in API responses.
type EdgeDTO struct {
	ID            string `json:"id"`
	TeamManagerID string `json:"team_manager_id"`
	LiveManagerID string `json:"live_manager_id"`
	Level         string `json:"level"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// SaveEdgeRequest is the request to create a genealogy edge.
type SaveEdgeRequest struct {
	TeamManagerID string `json:"team_manager_id"`
	LiveManagerID string `json:"live_manager_id"`
	Level         string `json:"level"`
}

// UpdateEdgeRequest is the request to change the level of an existing edge.
type UpdateEdgeRequest struct {
	Level string `json:"level"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBatchDTO(b *engine.UploadBatch) BatchDTO {
	dto := BatchDTO{
		ID:            string(b.ID),
		Period:        string(b.Period),
		Source:        b.Source,
		Status:        string(b.Status),
		Progress:      b.Progress,
		TotalRows:     b.TotalRows,
		ProcessedRows: b.ProcessedRows,
		SkippedRows:   b.SkippedRows,
		Error:         b.Error,
		IsActive:      b.IsActive,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
	}
	if b.CompletedAt != nil {
		dto.CompletedAt = b.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func toManagerDTO(m *engine.Manager) ManagerDTO {
	return ManagerDTO{
		ID:            string(m.ID),
		Handle:        m.Handle,
		DisplayName:   m.DisplayName,
		Type:          string(m.Type),
		LifetimeTotal: m.LifetimeTotal.StringFixed(2),
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}

func toEarningsDTO(e *engine.ManagerEarnings) EarningsDTO {
	return EarningsDTO{
		ManagerID:        string(e.ManagerID),
		Period:           string(e.Period),
		BatchID:          string(e.BatchID),
		BaseCommission:   e.BaseCommission.StringFixed(2),
		MilestoneBonuses: e.MilestonePayouts.StringFixed(2),
		ExtraBonuses:     e.Extras.StringFixed(2),
		TotalEarnings:    e.TotalEarnings.StringFixed(2),
		GrossRevenue:     e.TotalGross.StringFixed(2),
		TotalDeductions:  e.TotalDeductions.StringFixed(2),
		NetRevenue:       e.TotalNet.StringFixed(2),
		TransactionCount: e.TransactionCount,
		CreatorCount:     e.CreatorCount,
		Status:           string(e.Status),
	}
}

func toBonusDTO(b *engine.Bonus) BonusDTO {
	return BonusDTO{
		ID:               b.ID,
		ManagerID:        string(b.ManagerID),
		Period:           string(b.Period),
		Type:             string(b.Type),
		Amount:           b.Amount.StringFixed(2),
		BatchID:          string(b.BatchID),
		RelatedManagerID: string(b.RelatedManagerID),
		CreatedAt:        b.CreatedAt.Format(time.RFC3339),
	}
}

func toEdgeDTO(e *engine.GenealogyEdge) EdgeDTO {
	return EdgeDTO{
		ID:            string(e.ID),
		TeamManagerID: string(e.TeamManagerID),
		LiveManagerID: string(e.LiveManagerID),
		Level:         string(e.Level),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}
