package controller

import (
	"strconv"
	"time"

	"knightshade/internal/common/http/middleware"
	"knightshade/internal/submission/repository"
	"knightshade/internal/submission/service"
	pkgerrors "knightshade/pkg/errors"
	"knightshade/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionController exposes the submission HTTP API.
type SubmissionController struct {
	service *service.SubmissionService
}

func NewSubmissionController(submissionService *service.SubmissionService) *SubmissionController {
	return &SubmissionController{service: submissionService}
}

type statusView struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type submissionView struct {
	ID            string     `json:"id"`
	LanguageID    int        `json:"language_id"`
	Status        statusView `json:"status"`
	Stdout        string     `json:"stdout,omitempty"`
	Stderr        string     `json:"stderr,omitempty"`
	CompileOutput string     `json:"compile_output,omitempty"`
	Time          string     `json:"time,omitempty"`
	Memory        float64    `json:"memory,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toSubmissionView(submission *repository.Submission) submissionView {
	return submissionView{
		ID:         submission.ID,
		LanguageID: submission.LanguageID,
		Status: statusView{
			ID:          submission.StatusID,
			Description: submission.StatusDesc,
		},
		Stdout:        submission.Stdout,
		Stderr:        submission.Stderr,
		CompileOutput: submission.CompileOutput,
		Time:          submission.Time,
		Memory:        submission.Memory,
		CreatedAt:     submission.CreatedAt,
	}
}

type languageCountView struct {
	LanguageID int   `json:"language_id"`
	Count      int64 `json:"count"`
}

type verdictCountView struct {
	Status statusView `json:"status"`
	Count  int64      `json:"count"`
}

type analyticsView struct {
	ByLanguage []languageCountView `json:"by_language"`
	ByVerdict  []verdictCountView  `json:"by_verdict"`
}

// Submit accepts a code submission and returns the created Processing record.
func (c *SubmissionController) Submit(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		response.Unauthorized(ctx, "login required")
		return
	}

	var req service.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.Error(ctx, pkgerrors.Wrap(err, pkgerrors.InvalidParams))
		return
	}

	submission, err := c.service.Submit(ctx.Request.Context(), userID, &req)
	if err != nil {
		response.Error(ctx, err)
		return
	}
	response.Created(ctx, toSubmissionView(submission))
}

// Get returns the current state of one submission.
func (c *SubmissionController) Get(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		response.Unauthorized(ctx, "login required")
		return
	}

	submission, err := c.service.GetSubmission(ctx.Request.Context(), userID, ctx.Param("submissionId"))
	if err != nil {
		response.Error(ctx, err)
		return
	}
	response.Success(ctx, toSubmissionView(submission))
}

// List returns a page of the caller's submissions.
func (c *SubmissionController) List(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		response.Unauthorized(ctx, "login required")
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("count", "20"))

	submissions, total, err := c.service.ListSubmissions(ctx.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.Error(ctx, err)
		return
	}

	views := make([]submissionView, 0, len(submissions))
	for _, submission := range submissions {
		views = append(views, toSubmissionView(submission))
	}
	response.SuccessWithPagination(ctx, views, total, page, pageSize)
}

// Analytics returns platform-wide submission aggregates. Admin only.
func (c *SubmissionController) Analytics(ctx *gin.Context) {
	report, err := c.service.Analytics(ctx.Request.Context())
	if err != nil {
		response.Error(ctx, err)
		return
	}

	view := analyticsView{
		ByLanguage: make([]languageCountView, 0, len(report.ByLanguage)),
		ByVerdict:  make([]verdictCountView, 0, len(report.ByVerdict)),
	}
	for _, entry := range report.ByLanguage {
		view.ByLanguage = append(view.ByLanguage, languageCountView{
			LanguageID: entry.LanguageID,
			Count:      entry.Count,
		})
	}
	for _, entry := range report.ByVerdict {
		view.ByVerdict = append(view.ByVerdict, verdictCountView{
			Status: statusView{ID: entry.StatusID, Description: entry.StatusDesc},
			Count:  entry.Count,
		})
	}
	response.Success(ctx, view)
}
