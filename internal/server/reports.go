package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	reportdomain "github.com/smallbiznis/auditfile/internal/report/domain"
	"github.com/smallbiznis/auditfile/pkg/db/pagination"
)

type listReportsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	ClientID  string `form:"client_id"`
	Kind      string `form:"kind"`
	Status    string `form:"status"`
	Purpose   string `form:"purpose"`
}

type importRequest struct {
	PeriodFrom string `json:"period_from"`
	PeriodTo   string `json:"period_to"`
	Overwrite  bool   `json:"overwrite"`
}

type declarationRequest struct {
	Fields map[string]string `json:"fields"`
}

type validateRequest struct {
	Structural bool `json:"structural"`
	Business   bool `json:"business"`
}

type signRequest struct {
	SignatureType reportdomain.SignatureType `json:"signature_type"`
}

type submitRequest struct {
	TestMode bool `json:"test_mode"`
}

type correctionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CreateReport(c *gin.Context) {
	var req reportdomain.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reports.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": report})
}

func (s *Server) ListReports(c *gin.Context) {
	var query listReportsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.reports.List(c.Request.Context(), reportdomain.ListReportRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		ClientID: strings.TrimSpace(query.ClientID),
		Kind:     reportdomain.Kind(strings.ToUpper(strings.TrimSpace(query.Kind))),
		Status:   reportdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
		Purpose:  reportdomain.Purpose(strings.ToUpper(strings.TrimSpace(query.Purpose))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Reports, "page_info": resp.PageInfo})
}

func (s *Server) GetReport(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.reports.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) DeleteReport(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.reports.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListRecords(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, err := s.reports.ListRecords(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) AddSaleRecord(c *gin.Context) {
	s.addRecord(c, s.reports.AddSaleRecord)
}

func (s *Server) AddPurchaseRecord(c *gin.Context) {
	s.addRecord(c, s.reports.AddPurchaseRecord)
}

type addRecordFunc func(ctx context.Context, id snowflake.ID, in reportdomain.RecordInput) (*reportdomain.Record, error)

func (s *Server) addRecord(c *gin.Context, add addRecordFunc) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var in reportdomain.RecordInput
	if err := c.ShouldBindJSON(&in); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := add(c.Request.Context(), id, in)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": record})
}

func (s *Server) ImportFromLedger(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req importRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(req.PeriodFrom)
	if err != nil {
		AbortWithError(c, newValidationError("period_from", "invalid_period_from", "invalid period_from"))
		return
	}
	to, err := parseOptionalTime(req.PeriodTo)
	if err != nil {
		AbortWithError(c, newValidationError("period_to", "invalid_period_to", "invalid period_to"))
		return
	}

	result, err := s.reports.ImportFromLedger(c.Request.Context(), reportdomain.ImportRequest{
		ReportID:   id,
		PeriodFrom: from,
		PeriodTo:   to,
		Overwrite:  req.Overwrite,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) UpdateDeclaration(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req declarationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Fields == nil {
		AbortWithError(c, newValidationError("fields", "required", "fields is required"))
		return
	}

	report, err := s.reports.UpdateDeclaration(c.Request.Context(), id, req.Fields)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GenerateXML(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	regenerate, err := parseOptionalBool(c.Query("regenerate"))
	if err != nil {
		AbortWithError(c, newValidationError("regenerate", "invalid_regenerate", "invalid regenerate"))
		return
	}

	result, err := s.reports.GenerateXML(c.Request.Context(), id, regenerate != nil && *regenerate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) DownloadXML(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.reports.DownloadXML(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	c.Header("X-Content-SHA256", doc.Hash)
	c.Data(http.StatusOK, "application/xml", doc.Content)
}

func (s *Server) ValidateReport(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req validateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.reports.ValidateReport(c.Request.Context(), reportdomain.ValidateRequest{
		ReportID:   id,
		Structural: req.Structural,
		Business:   req.Business,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) SignReport(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reports.SignReport(c.Request.Context(), id, req.SignatureType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) SubmitReport(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req submitRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reports.SubmitReport(c.Request.Context(), id, req.TestMode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": report})
}

func (s *Server) CheckStatus(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.reports.CheckStatus(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// DownloadReceipt returns receipt metadata, or the PDF confirmation when
// format=pdf is requested.
func (s *Server) DownloadReceipt(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	receipt, err := s.reports.DownloadReceipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "pdf") {
		name := "receipt-" + receipt.ReceiptID + ".pdf"
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		c.Header("Last-Modified", receipt.ReceivedAt.UTC().Format(http.TimeFormat))
		c.Data(http.StatusOK, "application/pdf", receipt.PDF)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": receipt, "pdf_size": len(receipt.PDF)})
}

func (s *Server) CreateCorrection(c *gin.Context) {
	id, err := parseReportID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req correctionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.reports.CreateCorrection(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": report})
}
