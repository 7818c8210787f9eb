package types

// ComplianceStatus is the filing state of one return for one client.
type ComplianceStatus string

const (
	CompliancePending ComplianceStatus = "pending"
	ComplianceDone    ComplianceStatus = "done"
	ComplianceNA      ComplianceStatus = "na"
)

// Next returns the following status in the pending, done, na cycle.
// Unknown values restart the cycle at pending.
func (s ComplianceStatus) Next() ComplianceStatus {
	switch s {
	case CompliancePending:
		return ComplianceDone
	case ComplianceDone:
		return ComplianceNA
	case ComplianceNA:
		return CompliancePending
	default:
		return CompliancePending
	}
}

// ComplianceField names a tracked return.
type ComplianceField string

const (
	FieldTDS    ComplianceField = "tds"
	FieldGSTR1  ComplianceField = "gstr1"
	FieldGSTR3B ComplianceField = "gstr3b"
)

// Valid reports whether f is a tracked return.
func (f ComplianceField) Valid() bool {
	return f == FieldTDS || f == FieldGSTR1 || f == FieldGSTR3B
}

// ComplianceClient is one row of a user's compliance grid.
type ComplianceClient struct {
	ID     int64            `json:"id"`
	Name   string           `json:"name"`
	TDS    ComplianceStatus `json:"tds"`
	GSTR1  ComplianceStatus `json:"gstr1"`
	GSTR3B ComplianceStatus `json:"gstr3b"`
}

// Status returns the value of field f.
func (c ComplianceClient) Status(f ComplianceField) ComplianceStatus {
	switch f {
	case FieldTDS:
		return c.TDS
	case FieldGSTR1:
		return c.GSTR1
	case FieldGSTR3B:
		return c.GSTR3B
	}
	return ""
}

// WithStatus returns a copy of c with field f set to s.
func (c ComplianceClient) WithStatus(f ComplianceField, s ComplianceStatus) ComplianceClient {
	switch f {
	case FieldTDS:
		c.TDS = s
	case FieldGSTR1:
		c.GSTR1 = s
	case FieldGSTR3B:
		c.GSTR3B = s
	}
	return c
}

// SaveState tracks the most recent compliance write.
type SaveState string

const (
	SaveIdle   SaveState = "idle"
	SaveSaving SaveState = "saving"
	SaveSaved  SaveState = "saved"
	SaveFailed SaveState = "failed"
)
