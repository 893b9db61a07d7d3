package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
)

// Index returns the welcome message
func Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to Phishing Detection API!"})
}

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "Healthy"})
}

// Analyze handles POST /emails/analyze
func (s *Server) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Token == "" && req.Password == "" {
		req.Token = bearerToken(c.GetHeader("Authorization"))
	}

	run := core.RunRequest{
		Credentials: core.Credentials{
			Username: strings.TrimSpace(req.Email),
			Password: req.Password,
			Token:    req.Token,
			Host:     req.Host,
			Port:     req.Port,
		},
	}
	switch {
	case req.Token != "":
		run.Source = core.SourceGmail
	case req.Password != "":
		run.Source = core.SourceIMAP
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "either password or token is required"})
		return
	}

	limit, err := s.limit(req.Limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	run.Limit = limit

	s.runIngestion(c, run)
}

// Fetch handles GET /emails/fetch, the Gmail API flow
func (s *Server) Fetch(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "token is required"})
		return
	}

	limit, err := s.queryLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	s.runIngestion(c, core.RunRequest{
		Source:      core.SourceGmail,
		Credentials: core.Credentials{Token: token},
		Limit:       limit,
	})
}

// ListEmails handles GET /emails, returning stored results newest first
func (s *Server) ListEmails(c *gin.Context) {
	var filter core.MessageFilter

	if v := c.Query("source"); v != "" {
		source, err := core.ParseSource(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		filter.Source = source
	}
	if v := c.Query("phishing"); v != "" {
		phishing, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid phishing filter %q", v)})
			return
		}
		filter.IsPhishing = &phishing
	}
	limit, err := s.queryLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	filter.Limit = limit

	msgs, err := s.reader.ListMessages(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list stored emails", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list emails"})
		return
	}
	c.JSON(http.StatusOK, EmailsResponse{Emails: toEmailsResponse(msgs)})
}

func (s *Server) runIngestion(c *gin.Context, req core.RunRequest) {
	report, err := s.ingestor.Run(c.Request.Context(), req)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("Ingestion request failed",
			zap.String("source", string(req.Source)),
			zap.Int("status", status),
			zap.Error(err))
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, EmailsResponse{
		Emails: toEmailsResponse(report.Messages),
		Run:    toRunSummary(report),
	})
}

// statusFor maps the run error taxonomy onto HTTP statuses
func statusFor(err error) int {
	switch {
	case core.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// limit applies the configured default and ceiling to a requested limit
func (s *Server) limit(requested *int) (int, error) {
	if requested == nil || *requested == 0 {
		return s.defaultLimit, nil
	}
	if *requested < 0 {
		return 0, fmt.Errorf("limit must be positive, got %d", *requested)
	}
	if s.maxLimit > 0 && *requested > s.maxLimit {
		return s.maxLimit, nil
	}
	return *requested, nil
}

func (s *Server) queryLimit(c *gin.Context) (int, error) {
	v := c.Query("limit")
	if v == "" {
		return s.limit(nil)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return s.limit(&n)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
