package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/portal/types"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithHTTPClient(srv.Client()))
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		switch in["username"] {
		case "user":
			_, _ = w.Write([]byte(`{"success":true,"user":{"id":1,"username":"user","name":"Staff User","role":"user","status":"Active","restrictedModules":["indirect_tax"]}}`))
		case "blocked":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"Account is Restricted. Contact Admin."}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"Invalid credentials"}`))
		}
	})

	user, err := c.Login(context.Background(), "user", "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, []types.Category{types.CategoryIndirectTax}, user.RestrictedModules)

	_, err = c.Login(context.Background(), "blocked", "pw")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Account is Restricted. Contact Admin.", UserMessage(err))
}

func TestLoginWithoutSuccessFlag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":3,"username":"meera","role":"user","status":"Active"}}`))
	})

	user, err := c.Login(context.Background(), "meera", "pw")
	require.NoError(t, err)
	assert.Equal(t, "meera", user.Username)
	assert.Equal(t, int64(3), user.ID)
}

func TestLoginRejectedWithoutMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false}`))
	})

	_, err := c.Login(context.Background(), "meera", "pw")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, GenericFailure, apiErr.Message)
}

func TestProcessJSONWithoutSuccessFlag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok","download_url":"/api/download/r.xlsx","summary_data":[]}`))
	})

	res, err := c.Process(context.Background(), "/api/direct-tax/tds-odoo", Form{})
	require.NoError(t, err)
	require.NotNil(t, res.JSON)
	assert.Equal(t, "ok", res.JSON.Message)
	assert.Equal(t, "/api/download/r.xlsx", res.JSON.DownloadURL)
}

func TestProcessJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/direct-tax/tds-odoo", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Len(t, r.MultipartForm.File["files"], 2)
		assert.Equal(t, "march", r.FormValue("custom_name"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"Processed","download_url":"/api/download/TDS_march.xlsx","summary_data":[{"Section":"194C","Amount":1200}]}`))
	})

	res, err := c.Process(context.Background(), "/api/direct-tax/tds-odoo", Form{
		Files: []FormFile{
			{Field: "files", File: types.UploadedFile{Filename: "a.xlsx", Data: []byte("a")}},
			{Field: "files", File: types.UploadedFile{Filename: "b.xlsx", Data: []byte("b")}},
		},
		Fields: map[string]string{"custom_name": "march", "unused": " "},
	})
	require.NoError(t, err)
	require.NotNil(t, res.JSON)
	assert.Equal(t, "/api/download/TDS_march.xlsx", res.JSON.DownloadURL)
	require.Len(t, res.JSON.SummaryData, 1)
	assert.Equal(t, "194C", res.JSON.SummaryData[0]["Section"])
}

func TestProcessBinary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename=Odoo_Portal_Reco.xlsx`)
		_, _ = w.Write([]byte("PK\x03\x04binary"))
	})

	res, err := c.Process(context.Background(), "/api/indirect-tax/reco-gstr2b", Form{})
	require.NoError(t, err)
	assert.Nil(t, res.JSON)
	assert.Equal(t, "Odoo_Portal_Reco.xlsx", res.Filename)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", res.ContentType)
	assert.Equal(t, []byte("PK\x03\x04binary"), res.Body)
}

func TestProcessErrors(t *testing.T) {
	t.Run("error body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Portal file is missing."}`))
		})
		_, err := c.Process(context.Background(), "/api/indirect-tax/reco-gstr2b", Form{})
		assert.Equal(t, "Portal file is missing.", UserMessage(err))
	})

	t.Run("unparseable error body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("<html>boom</html>"))
		})
		_, err := c.Process(context.Background(), "/api/fixed-assets/calculate", Form{})
		assert.Equal(t, GenericFailure, UserMessage(err))
	})

	t.Run("success false", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":false}`))
		})
		_, err := c.Process(context.Background(), "/api/direct-tax/tds-zoho", Form{})
		assert.Equal(t, GenericFailure, UserMessage(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := New(srv.URL)
		_, err := c.Process(context.Background(), "/api/direct-tax/tds-zoho", Form{})
		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, ConnectivityFailure, UserMessage(err))
	})
}

func TestUpdateChallanSendsInputs(t *testing.T) {
	var got struct {
		FilePath   string                        `json:"file_path"`
		Inputs     map[string]types.ChallanInput `json:"inputs"`
		CustomName string                        `json:"custom_name"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"Updated","download_url":"/api/download/Challan.xlsx"}`))
	})

	res, err := c.UpdateChallan(context.Background(), "uploads/TEMP_CHALLAN_x.xlsx", map[string]types.ChallanInput{
		"194C|Co": {ChallanNo: "00123", Amount: "100", Interest: "0", Total: "100"},
	}, "Q1")
	require.NoError(t, err)
	assert.Equal(t, "/api/download/Challan.xlsx", res.DownloadURL)
	assert.Equal(t, "uploads/TEMP_CHALLAN_x.xlsx", got.FilePath)
	assert.Contains(t, got.Inputs, "194C|Co")
	assert.Equal(t, "Q1", got.CustomName)
}

func TestUpdateChallanWithoutSuccessFlag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"download_url":"/api/download/Challan.xlsx"}`))
	})

	res, err := c.UpdateChallan(context.Background(), "uploads/TEMP_CHALLAN_x.xlsx", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "/api/download/Challan.xlsx", res.DownloadURL)
}

func TestAnalyzeChallan(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "report", string(data))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"groups":[{"Section":"194C","Co./Non Co.":"Co","Total_Tax_Pending":1500.5}],"temp_file_path":"uploads/TEMP_CHALLAN_r.xlsx"}`))
	})

	out, err := c.AnalyzeChallan(context.Background(), types.UploadedFile{Filename: "r.xlsx", Data: []byte("report")})
	require.NoError(t, err)
	require.Len(t, out.Groups, 1)
	assert.Equal(t, "194C|Co", out.Groups[0].Key())
	assert.Equal(t, "1500.5", out.Groups[0].TotalTaxPending.String())
	assert.Equal(t, "uploads/TEMP_CHALLAN_r.xlsx", out.TempFilePath)
}

func TestSaveUsersFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to save"}`))
	})
	err := c.SaveUsers(context.Background(), []types.User{{ID: 1}})
	assert.Equal(t, "Failed to save", UserMessage(err))
}
