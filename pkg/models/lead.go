// Package models defines the internal entities synchronized from external
// CRM systems.
package models

import "time"

// LeadStatus is the internal lifecycle status of a lead
type LeadStatus string

const (
	StatusNew          LeadStatus = "new"
	StatusContacted    LeadStatus = "contacted"
	StatusQualified    LeadStatus = "qualified"
	StatusProposal     LeadStatus = "proposal"
	StatusNegotiation  LeadStatus = "negotiation"
	StatusWon          LeadStatus = "won"
	StatusLost         LeadStatus = "lost"
	StatusDisqualified LeadStatus = "disqualified"
)

// Valid reports whether s is a known lifecycle status
func (s LeadStatus) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusProposal,
		StatusNegotiation, StatusWon, StatusLost, StatusDisqualified:
		return true
	}
	return false
}

// Lead is the internal representation of one CRM prospect. Leads are
// created by the field mapper and persisted by the store; the sync path
// never deletes them.
//
// (TenantID, ExternalID) is unique when ExternalID is present; leads
// without an external id are always treated as new inserts.
type Lead struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	ExternalID string `json:"external_id,omitempty"`
	// Source tags the external system the lead came from (e.g. "salesforce")
	Source string `json:"source"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Company   string `json:"company,omitempty"`
	Title     string `json:"title,omitempty"`
	Phone     string `json:"phone,omitempty"`

	Status LeadStatus `json:"status"`
	// Score is a 0-100 qualification score derived from source ratings
	Score int `json:"score"`
	// EstimatedValue is the expected deal value in the tenant's currency
	EstimatedValue float64 `json:"estimated_value"`
	// OwnerID is the assignment owner in the source system
	OwnerID string `json:"owner_id,omitempty"`

	// Data preserves source-specific fields that have no dedicated column
	Data map[string]interface{} `json:"data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName returns the lead's display name
func (l *Lead) FullName() string {
	switch {
	case l.FirstName == "":
		return l.LastName
	case l.LastName == "":
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}
