package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dcastillo/agil-radar/internal/auth"
	"github.com/dcastillo/agil-radar/internal/db"
	"github.com/dcastillo/agil-radar/internal/etl"
	"github.com/dcastillo/agil-radar/internal/models"
	"github.com/dcastillo/agil-radar/internal/scoring"
)

// Config carries the server thresholds shared with the pipeline.
type Config struct {
	Phase1Threshold   int
	RelevantThreshold int
	CORSOrigins       []string
}

type Server struct {
	Store       *db.Store
	AuthService *auth.Service
	Pipeline    *etl.Pipeline
	Engine      *scoring.Engine
	Echo        *echo.Echo

	cfg Config
}

func NewServer(store *db.Store, authService *auth.Service, pipeline *etl.Pipeline, engine *scoring.Engine, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Store:       store,
		AuthService: authService,
		Pipeline:    pipeline,
		Engine:      engine,
		Echo:        e,
		cfg:         cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	api.GET("/tenders", s.handleListTenders)
	api.GET("/tenders/:code", s.handleGetTender)
	api.GET("/runs", s.handleListRuns)
	api.GET("/keywords", s.handleListKeywords)
	api.GET("/organizations", s.handleListOrganizations)
	api.GET("/organization-rules", s.handleListOrganizationRules)

	// Everything that mutates state requires a token.
	protected := api.Group("")
	protected.Use(s.AuthService.Middleware)
	protected.PUT("/tenders/:id/favorite", s.handleSetFavorite)
	protected.PUT("/tenders/:id/bid", s.handleSetBid)
	protected.DELETE("/tenders/:id", s.handleDeleteTender)

	protected.POST("/keywords", s.handleAddKeyword)
	protected.DELETE("/keywords/:id", s.handleDeleteKeyword)
	protected.PUT("/organization-rules", s.handleSetOrganizationRule)
	protected.DELETE("/organization-rules/:id", s.handleDeleteOrganizationRule)

	protected.POST("/pipeline/scrape", s.handleTriggerScrape)
	protected.POST("/pipeline/recompute", s.handleTriggerRecompute)
	protected.POST("/pipeline/refresh", s.handleTriggerRefresh)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrUserExists {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrInvalidCreds {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// handleListTenders serves the triage views. view is one of candidates,
// relevant, favorites or bids; min_score overrides the view threshold.
func (s *Server) handleListTenders(c echo.Context) error {
	ctx := c.Request().Context()
	view := c.QueryParam("view")

	var tenders []models.Tender
	var err error
	switch view {
	case "", "candidates":
		min := s.cfg.Phase1Threshold
		if v, perr := strconv.Atoi(c.QueryParam("min_score")); perr == nil {
			min = v
		}
		tenders, err = s.Store.ListByMinScore(ctx, min)
	case "relevant":
		tenders, err = s.Store.ListByMinScore(ctx, s.cfg.RelevantThreshold)
	case "favorites":
		tenders, err = s.Store.ListFavorites(ctx)
	case "bids":
		tenders, err = s.Store.ListBids(ctx)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown view " + view})
	}
	if err != nil {
		c.Logger().Errorf("failed to list tenders: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	if tenders == nil {
		tenders = []models.Tender{}
	}
	return c.JSON(http.StatusOK, tenders)
}

func (s *Server) handleGetTender(c echo.Context) error {
	tender, err := s.Store.GetTenderByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	return c.JSON(http.StatusOK, tender)
}

func (s *Server) tenderID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (s *Server) handleSetFavorite(c echo.Context) error {
	id, err := s.tenderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tender ID"})
	}
	var req flagRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := s.Store.SetFavorite(c.Request().Context(), id, req.Value); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleSetBid(c echo.Context) error {
	id, err := s.tenderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tender ID"})
	}
	var req flagRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := s.Store.SetBid(c.Request().Context(), id, req.Value); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleDeleteTender(c echo.Context) error {
	id, err := s.tenderID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tender ID"})
	}
	if err := s.Store.DeleteTender(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleListKeywords(c echo.Context) error {
	keywords, err := s.Store.GetAllKeywords(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if keywords == nil {
		keywords = []models.Keyword{}
	}
	return c.JSON(http.StatusOK, keywords)
}

type keywordRequest struct {
	Text   string `json:"text"`
	Type   string `json:"type"`
	Points int    `json:"points"`
}

func (s *Server) handleAddKeyword(c echo.Context) error {
	var req keywordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	kw, err := s.Store.AddKeyword(c.Request().Context(), req.Text, req.Type, req.Points)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	s.Engine.Reload(c.Request().Context())
	return c.JSON(http.StatusCreated, kw)
}

func (s *Server) handleDeleteKeyword(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid keyword ID"})
	}
	if err := s.Store.DeleteKeyword(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	s.Engine.Reload(c.Request().Context())
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleListOrganizations(c echo.Context) error {
	orgs, err := s.Store.GetAllOrganizations(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if orgs == nil {
		orgs = []models.Organization{}
	}
	return c.JSON(http.StatusOK, orgs)
}

func (s *Server) handleListOrganizationRules(c echo.Context) error {
	rules, err := s.Store.GetAllOrganizationRules(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if rules == nil {
		rules = []models.OrganizationRule{}
	}
	return c.JSON(http.StatusOK, rules)
}

type orgRuleRequest struct {
	OrganizationID int64  `json:"organization_id"`
	Kind           string `json:"kind"`
	Points         int    `json:"points"`
}

func (s *Server) handleSetOrganizationRule(c echo.Context) error {
	var req orgRuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	rule, err := s.Store.SetOrganizationRule(c.Request().Context(), req.OrganizationID, req.Kind, req.Points)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	s.Engine.Reload(c.Request().Context())
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) handleDeleteOrganizationRule(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule ID"})
	}
	if err := s.Store.DeleteOrganizationRule(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	s.Engine.Reload(c.Request().Context())
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := 20
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	runs, err := s.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if runs == nil {
		runs = []models.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// Pipeline triggers run in the background and answer immediately; a held
// run guard maps to 409.
func (s *Server) handleTriggerScrape(c echo.Context) error {
	return s.triggerRun(c, "scrape", s.Pipeline.RunListing)
}

func (s *Server) handleTriggerRecompute(c echo.Context) error {
	return s.triggerRun(c, "recompute", s.Pipeline.RunRecompute)
}

func (s *Server) handleTriggerRefresh(c echo.Context) error {
	return s.triggerRun(c, "refresh", s.Pipeline.RunTrackedRefresh)
}

func (s *Server) triggerRun(c echo.Context, name string, entry func(ctx context.Context, progress func(string)) (*models.Run, error)) error {
	if s.Pipeline.Busy() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "a pipeline run is already in progress"})
	}

	// Detach from the request lifecycle; the run outlives the response.
	go func() {
		_, err := entry(context.Background(), nil)
		if errors.Is(err, etl.ErrRunInProgress) {
			log.Printf("[api] %s trigger lost the guard race, skipped", name)
			return
		}
		if err != nil {
			log.Printf("[api] %s run failed: %v", name, err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"message": name + " started"})
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}
