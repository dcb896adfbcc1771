package salesforce

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leadbridge/leadbridge/pkg/connector/core"
	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/models"
)

// Supported object types.
const (
	ObjectLead    = "Lead"
	ObjectContact = "Contact"
	ObjectAccount = "Account"
)

const unknownName = "Unknown"

// defaultFields lists the columns fetched per object type when a caller does
// not supply its own projection.
var defaultFields = map[string][]string{
	ObjectLead: {
		"Id", "FirstName", "LastName", "Email", "Company", "Title",
		"Phone", "Status", "Rating", "AnnualRevenue", "LeadSource",
		"OwnerId", "CreatedDate", "LastModifiedDate",
	},
	ObjectContact: {
		"Id", "FirstName", "LastName", "Email", "Title", "Phone",
		"AccountId", "OwnerId", "CreatedDate", "LastModifiedDate",
	},
	ObjectAccount: {
		"Id", "Name", "Industry", "Phone", "Website", "AnnualRevenue",
		"OwnerId", "CreatedDate", "LastModifiedDate",
	},
}

// statusByExternal maps external status labels (compared case-insensitively)
// to internal lead statuses. Labels not listed here fall back to StatusNew.
var statusByExternal = map[string]models.LeadStatus{
	"open - not contacted":   models.StatusNew,
	"working - contacted":    models.StatusContacted,
	"qualified":              models.StatusQualified,
	"unqualified":            models.StatusDisqualified,
	"closed - converted":     models.StatusWon,
	"closed - not converted": models.StatusLost,
}

// externalByStatus is the inverse table. Internal statuses without an
// external equivalent are deliberately absent and omitted on export.
var externalByStatus = map[models.LeadStatus]string{
	models.StatusNew:          "Open - Not Contacted",
	models.StatusContacted:    "Working - Contacted",
	models.StatusQualified:    "Qualified",
	models.StatusDisqualified: "Unqualified",
	models.StatusWon:          "Closed - Converted",
	models.StatusLost:         "Closed - Not Converted",
}

// ratingScores converts the coarse external rating into a numeric score.
var ratingScores = map[string]int{
	"hot":  90,
	"warm": 60,
	"cold": 30,
}

const defaultScore = 50

// FieldMapper translates between external records and internal leads.
type FieldMapper struct {
	source string
}

func NewFieldMapper() *FieldMapper {
	return &FieldMapper{source: ConnectorType}
}

// DefaultFields returns the default projection for an object type, or nil
// for unsupported types.
func (m *FieldMapper) DefaultFields(objectType string) []string {
	fields, ok := defaultFields[objectType]
	if !ok {
		return nil
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// ObjectTypes returns the object types the mapper understands.
func (m *FieldMapper) ObjectTypes() []string {
	return []string{ObjectLead, ObjectContact, ObjectAccount}
}

// ToInternal converts an external record into a lead. The external id,
// tenant and source are always set; fields not consumed by the mapping are
// preserved in the lead's Data payload.
func (m *FieldMapper) ToInternal(rec core.ExternalRecord, tenantID string) (*models.Lead, error) {
	if len(rec.Fields) == 0 {
		return nil, errors.New(errors.ErrorTypeMapping, "record has no fields")
	}

	lead := &models.Lead{
		TenantID:   tenantID,
		ExternalID: rec.ID(),
		Source:     m.source,
		Data:       make(map[string]interface{}),
	}

	consumed := map[string]bool{"Id": true, "attributes": true}
	switch rec.ObjectType {
	case ObjectLead:
		lead.FirstName = stringField(rec.Fields, "FirstName")
		lead.LastName = stringField(rec.Fields, "LastName")
		lead.Email = stringField(rec.Fields, "Email")
		lead.Company = stringField(rec.Fields, "Company")
		lead.Title = stringField(rec.Fields, "Title")
		lead.Phone = stringField(rec.Fields, "Phone")
		lead.Status = mapStatus(stringField(rec.Fields, "Status"))
		lead.Score = mapRating(stringField(rec.Fields, "Rating"))
		lead.EstimatedValue = numberField(rec.Fields, "AnnualRevenue")
		lead.OwnerID = stringField(rec.Fields, "OwnerId")
		markConsumed(consumed, "FirstName", "LastName", "Email", "Company",
			"Title", "Phone", "Status", "Rating", "AnnualRevenue", "OwnerId")
	case ObjectContact:
		lead.FirstName = stringField(rec.Fields, "FirstName")
		lead.LastName = stringField(rec.Fields, "LastName")
		lead.Email = stringField(rec.Fields, "Email")
		lead.Title = stringField(rec.Fields, "Title")
		lead.Phone = stringField(rec.Fields, "Phone")
		lead.Status = models.StatusNew
		lead.Score = defaultScore
		lead.OwnerID = stringField(rec.Fields, "OwnerId")
		markConsumed(consumed, "FirstName", "LastName", "Email", "Title",
			"Phone", "OwnerId")
	case ObjectAccount:
		name := stringField(rec.Fields, "Name")
		lead.LastName = name
		lead.Company = name
		lead.Phone = stringField(rec.Fields, "Phone")
		lead.Status = models.StatusNew
		lead.Score = defaultScore
		lead.EstimatedValue = numberField(rec.Fields, "AnnualRevenue")
		lead.OwnerID = stringField(rec.Fields, "OwnerId")
		markConsumed(consumed, "Name", "Phone", "AnnualRevenue", "OwnerId")
	default:
		return nil, errors.New(errors.ErrorTypeMapping,
			fmt.Sprintf("unsupported object type %q", rec.ObjectType))
	}

	if lead.LastName == "" {
		lead.LastName = unknownName
	}
	if lead.FirstName == "" && rec.ObjectType != ObjectAccount {
		lead.FirstName = unknownName
	}

	for key, value := range rec.Fields {
		if !consumed[key] {
			lead.Data[key] = value
		}
	}
	return lead, nil
}

// ToExternal converts a lead into the field payload for a create or update
// call. Empty fields and statuses without an external equivalent are left
// out entirely so the remote values are not clobbered.
func (m *FieldMapper) ToExternal(lead *models.Lead) map[string]interface{} {
	out := make(map[string]interface{})
	setIfNonEmpty(out, "FirstName", lead.FirstName)
	setIfNonEmpty(out, "LastName", lead.LastName)
	setIfNonEmpty(out, "Email", lead.Email)
	setIfNonEmpty(out, "Company", lead.Company)
	setIfNonEmpty(out, "Title", lead.Title)
	setIfNonEmpty(out, "Phone", lead.Phone)
	setIfNonEmpty(out, "OwnerId", lead.OwnerID)
	if ext, ok := externalByStatus[lead.Status]; ok {
		out["Status"] = ext
	}
	if lead.EstimatedValue > 0 {
		out["AnnualRevenue"] = lead.EstimatedValue
	}
	return out
}

func mapStatus(raw string) models.LeadStatus {
	if status, ok := statusByExternal[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return models.StatusNew
}

func mapRating(raw string) int {
	if score, ok := ratingScores[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return score
	}
	return defaultScore
}

func markConsumed(consumed map[string]bool, keys ...string) {
	for _, key := range keys {
		consumed[key] = true
	}
}

func setIfNonEmpty(out map[string]interface{}, key, value string) {
	if value != "" {
		out[key] = value
	}
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func numberField(fields map[string]interface{}, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}
