package workflow

import (
	"path"
	"sort"
	"strings"

	"github.com/taxdesk/portal/types"
)

const (
	acceptSpreadsheets = ".xlsx,.xls,.csv"
	acceptText         = ".txt"
	acceptHTML         = ".html,.htm,.xlsx,.xls"

	fieldCustomName = "custom_name"
)

// Slot is a named file input of a screen.
type Slot struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Multiple bool   `json:"multiple"`
	Accept   string `json:"accept"`
}

// Accepts reports whether filename has one of the slot's extensions.
// An empty Accept list allows any file.
func (s Slot) Accepts(filename string) bool {
	if s.Accept == "" {
		return true
	}
	ext := strings.ToLower(path.Ext(filename))
	for _, allowed := range strings.Split(s.Accept, ",") {
		if ext == strings.TrimSpace(allowed) {
			return true
		}
	}
	return false
}

// Field is a named scalar input of a screen.
type Field struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder,omitempty"`
}

// Rule is one precondition on the filled slots. With AnyOf unset every
// key must hold a file; with AnyOf set at least one must.
type Rule struct {
	Keys    []string `json:"keys"`
	AnyOf   bool     `json:"any_of"`
	Message string   `json:"message"`
}

func (r Rule) satisfied(files map[string][]types.UploadedFile) bool {
	for _, key := range r.Keys {
		filled := len(files[key]) > 0
		if r.AnyOf && filled {
			return true
		}
		if !r.AnyOf && !filled {
			return false
		}
	}
	return !r.AnyOf
}

// Screen declares one processing screen.
type Screen struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Endpoint     string             `json:"endpoint"`
	Slots        []Slot             `json:"slots"`
	Fields       []Field            `json:"fields"`
	Rules        []Rule             `json:"rules"`
	Response     types.ResponseKind `json:"response"`
	DownloadName string             `json:"download_name,omitempty"`
}

// Slot looks up a slot by key.
func (s Screen) Slot(key string) (Slot, bool) {
	for _, slot := range s.Slots {
		if slot.Key == key {
			return slot, true
		}
	}
	return Slot{}, false
}

// HasField reports whether name is a declared field.
func (s Screen) HasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Check returns the message of the first unsatisfied rule.
func (s Screen) Check(files map[string][]types.UploadedFile) (string, bool) {
	for _, r := range s.Rules {
		if !r.satisfied(files) {
			return r.Message, false
		}
	}
	return "", true
}

var reportName = Field{Name: fieldCustomName, Label: "Report name", Placeholder: "Optional output file name"}

var catalog = map[string]Screen{
	"tds_odoo": {
		ID: "tds_odoo", Title: "TDS Odoo", Endpoint: "/api/direct-tax/tds-odoo",
		Slots:    []Slot{{Key: "files", Label: "Odoo TDS exports", Multiple: true, Accept: acceptSpreadsheets}},
		Fields:   []Field{reportName},
		Rules:    []Rule{{Keys: []string{"files"}, Message: "Please upload at least one Odoo TDS file."}},
		Response: types.ResponseJSON,
	},
	"tds_zoho": {
		ID: "tds_zoho", Title: "TDS Zoho", Endpoint: "/api/direct-tax/tds-zoho",
		Slots:    []Slot{{Key: "files", Label: "Zoho TDS exports", Multiple: true, Accept: acceptSpreadsheets}},
		Fields:   []Field{reportName},
		Rules:    []Rule{{Keys: []string{"files"}, Message: "Please upload at least one Zoho TDS file."}},
		Response: types.ResponseJSON,
	},
	"26as_reco": {
		ID: "26as_reco", Title: "26AS Reconciliation", Endpoint: "/api/direct-tax/26as-reco",
		Slots: []Slot{
			{Key: "portal_file", Label: "26AS text file", Accept: acceptText},
			{Key: "book_file", Label: "Books ledger (optional)", Accept: acceptSpreadsheets},
		},
		Fields:   []Field{reportName},
		Rules:    []Rule{{Keys: []string{"portal_file"}, Message: "Please upload the 26AS Text File."}},
		Response: types.ResponseJSON,
	},
	"fixed_assets": {
		ID: "fixed_assets", Title: "Fixed Asset Register", Endpoint: "/api/fixed-assets/calculate",
		Slots:        []Slot{{Key: "file_assets", Label: "Asset schedule", Accept: acceptSpreadsheets}},
		Rules:        []Rule{{Keys: []string{"file_assets"}, Message: "Please upload the Asset Excel file."}},
		Response:     types.ResponseBinary,
		DownloadName: "Fixed_Asset_Register",
	},
	"gstr1_odoo": {
		ID: "gstr1_odoo", Title: "GSTR-1 Odoo", Endpoint: "/api/indirect-tax/gstr1-odoo",
		Slots:    []Slot{{Key: "files", Label: "Odoo sales registers", Multiple: true, Accept: acceptSpreadsheets}},
		Fields:   []Field{reportName},
		Rules:    []Rule{{Keys: []string{"files"}, Message: "Please upload at least one Odoo sales file."}},
		Response: types.ResponseJSON,
	},
	"gstr1_zoho": {
		ID: "gstr1_zoho", Title: "GSTR-1 Zoho", Endpoint: "/api/indirect-tax/gstr1-zoho",
		Slots: []Slot{
			{Key: "file_invoice_details", Label: "Invoice details", Accept: acceptSpreadsheets},
			{Key: "file_credit_note_details", Label: "Credit note details", Accept: acceptSpreadsheets},
			{Key: "file_invoice_credit_notes", Label: "Invoice credit notes", Accept: acceptSpreadsheets},
			{Key: "file_export_invoices", Label: "Export invoices", Accept: acceptSpreadsheets},
		},
		Fields: []Field{reportName},
		Rules: []Rule{{
			Keys:    []string{"file_invoice_details", "file_credit_note_details", "file_invoice_credit_notes", "file_export_invoices"},
			AnyOf:   true,
			Message: "Please upload at least one Zoho file.",
		}},
		Response: types.ResponseJSON,
	},
	"gstr2b_odoo": {
		ID: "gstr2b_odoo", Title: "GSTR-2B Odoo", Endpoint: "/api/indirect-tax/gstr2b-odoo",
		Slots: []Slot{
			{Key: "regular_cgst", Label: "Regular CGST/SGST register", Accept: acceptSpreadsheets},
			{Key: "regular_igst", Label: "Regular IGST register", Accept: acceptSpreadsheets},
			{Key: "rcm_cgst", Label: "RCM CGST/SGST register", Accept: acceptSpreadsheets},
			{Key: "rcm_igst", Label: "RCM IGST register", Accept: acceptSpreadsheets},
		},
		Fields: []Field{reportName},
		Rules: []Rule{{
			Keys:    []string{"regular_cgst", "regular_igst", "rcm_cgst", "rcm_igst"},
			AnyOf:   true,
			Message: "Please upload at least one purchase register.",
		}},
		Response: types.ResponseJSON,
	},
	"gstr2b_zoho": {
		ID: "gstr2b_zoho", Title: "GSTR-2B Zoho", Endpoint: "/api/indirect-tax/gstr2b-zoho",
		Slots:    []Slot{{Key: "file", Label: "Zoho purchase export", Accept: acceptSpreadsheets}},
		Fields:   []Field{reportName},
		Rules:    []Rule{{Keys: []string{"file"}, Message: "Please upload the Zoho purchase file."}},
		Response: types.ResponseJSON,
	},
	"gstr2b_reco_odoo": {
		ID: "gstr2b_reco_odoo", Title: "GSTR-2B Reco (Odoo)", Endpoint: "/api/indirect-tax/reco-gstr2b",
		Slots: []Slot{
			{Key: "file_portal", Label: "GSTR-2B portal file", Accept: acceptHTML},
			{Key: "odoo_reg_cgst", Label: "Odoo regular CGST/SGST", Accept: acceptSpreadsheets},
			{Key: "odoo_reg_igst", Label: "Odoo regular IGST", Accept: acceptSpreadsheets},
			{Key: "odoo_rcm_cgst", Label: "Odoo RCM CGST/SGST", Accept: acceptSpreadsheets},
			{Key: "odoo_rcm_igst", Label: "Odoo RCM IGST", Accept: acceptSpreadsheets},
		},
		Fields: ledgerFields,
		Rules: []Rule{
			{Keys: []string{"file_portal"}, Message: "Portal file is missing."},
			{
				Keys:    []string{"odoo_reg_cgst", "odoo_reg_igst", "odoo_rcm_cgst", "odoo_rcm_igst"},
				AnyOf:   true,
				Message: "Please upload at least one Odoo register file.",
			},
		},
		Response:     types.ResponseBinary,
		DownloadName: "Odoo_Portal_Reco",
	},
	"gstr2b_reco_zoho": {
		ID: "gstr2b_reco_zoho", Title: "GSTR-2B Reco (Zoho)", Endpoint: "/api/indirect-tax/reco-gstr2b-zoho",
		Slots: []Slot{
			{Key: "file_portal", Label: "GSTR-2B portal file", Accept: acceptHTML},
			{Key: "file_zoho", Label: "Zoho purchase export", Accept: acceptSpreadsheets},
		},
		Fields:       ledgerFields,
		Rules:        []Rule{{Keys: []string{"file_portal", "file_zoho"}, Message: "Both Portal and Zoho files are required."}},
		Response:     types.ResponseBinary,
		DownloadName: "Zoho_Portal_Reco",
	},
}

// ledgerFields carry manually entered ITC ledger balances for the
// reconciliation screens.
var ledgerFields = []Field{
	{Name: "ledger_igst", Label: "Ledger IGST", Placeholder: "0.00"},
	{Name: "ledger_cgst", Label: "Ledger CGST", Placeholder: "0.00"},
	{Name: "ledger_sgst", Label: "Ledger SGST", Placeholder: "0.00"},
}

// Lookup returns the screen declared for a module id.
func Lookup(moduleID string) (Screen, bool) {
	s, ok := catalog[moduleID]
	return s, ok
}

// Screens returns every declared screen ordered by id.
func Screens() []Screen {
	out := make([]Screen, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
