package types

import "github.com/shopspring/decimal"

// ChallanGroup is one pending-tax group reported by challan analysis.
// Field names follow the processing service.
type ChallanGroup struct {
	// Section is the TDS section, e.g. "194C".
	Section string `json:"Section"`

	// CoStatus separates company from non-company deductees ("Co" / "Non Co").
	CoStatus string `json:"Co./Non Co."`

	// TotalTaxPending is the tax still to be deposited for the group.
	TotalTaxPending decimal.Decimal `json:"Total_Tax_Pending"`
}

// Key returns the composite key "Section|CoStatus" used to address inputs.
func (g ChallanGroup) Key() string {
	return g.Section + "|" + g.CoStatus
}

// ChallanInput holds the manually entered deposit details for one group.
// Values are sent as strings; the service parses amounts itself.
type ChallanInput struct {
	ChallanNo string `json:"challan_no"`
	Date      string `json:"date"`
	BSR       string `json:"bsr"`
	Amount    string `json:"amount"`
	Interest  string `json:"interest"`
	Total     string `json:"total"`
}

// ChallanPhase is the step of the challan workflow.
type ChallanPhase string

const (
	ChallanUpload    ChallanPhase = "upload"
	ChallanAnalyzed  ChallanPhase = "analyzed"
	ChallanFinalized ChallanPhase = "finalized"
)
