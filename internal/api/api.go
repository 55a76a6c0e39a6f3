package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/wheelibin/sets/internal/models"
	"github.com/wheelibin/sets/internal/sets"
)

type setsEngine interface {
	SetID(label, adoptID string) (string, error)
	DeleteSet(setID string) (bool, error)
	StateID(label, adoptID string) (string, error)
	AddState(setID, stateID string) (bool, error)
	DeleteState(setID, stateID string) (bool, error)
	SetState(setID, stateID string, change models.Change) (bool, error)
	CopyStates(fromID, toID string) error
	FullState() (*models.FullState, error)
}

type eventStream interface {
	HandleHTTP(w http.ResponseWriter, r *http.Request)
}

// Service exposes the engine over HTTP: the owner-only configuration
// routes, the public snapshot/toggle routes and the realtime event stream.
type Service struct {
	logger *log.Logger
	engine setsEngine
	events eventStream
	// bearer token for the owner routes, empty disables the check
	ownerToken string
}

func NewService(logger *log.Logger, engine setsEngine, events eventStream, ownerToken string) *Service {
	return &Service{logger: logger, engine: engine, events: events, ownerToken: ownerToken}
}

func (a *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	owner := a.ownerOnly()

	router.POST("/set/", owner, a.createSet)
	router.DELETE("/set/:set", owner, a.deleteSet)
	router.POST("/set/:set/state/", owner, a.addState)
	router.DELETE("/set/:set/state/:state", owner, a.deleteState)

	router.GET("/", a.fullState)
	router.PUT("/set/:set/state/:state", a.toggleState)
	router.POST("/set/:set/state/:state", a.toggleState)

	router.GET("/events", func(c *gin.Context) {
		a.events.HandleHTTP(c.Writer, c.Request)
	})

	return router
}

func (a *Service) ownerOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.ownerToken == "" {
			return
		}

		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if auth == "" || token == auth || token != a.ownerToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "owner access required"})
		}
	}
}

type createSetBody struct {
	Label    string `json:"label" binding:"required"`
	CopyFrom string `json:"copyFrom"`
}

func (a *Service) createSet(c *gin.Context) {
	var body createSetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	setID, err := a.engine.SetID(body.Label, "")
	if err != nil {
		a.fail(c, err)
		return
	}

	if body.CopyFrom != "" {
		if err := a.engine.CopyStates(body.CopyFrom, setID); err != nil {
			a.fail(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"id": setID})
}

func (a *Service) deleteSet(c *gin.Context) {
	ok, err := a.engine.DeleteSet(c.Param("set"))
	if err != nil {
		a.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "set is not empty"})
		return
	}
	c.Status(http.StatusNoContent)
}

type addStateBody struct {
	Label string `json:"label" binding:"required"`
}

func (a *Service) addState(c *gin.Context) {
	var body addStateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stateID, err := a.engine.StateID(body.Label, "")
	if err != nil {
		a.fail(c, err)
		return
	}

	ok, err := a.engine.AddState(c.Param("set"), stateID)
	if err != nil {
		a.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown set"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": stateID})
}

func (a *Service) deleteState(c *gin.Context) {
	ok, err := a.engine.DeleteState(c.Param("set"), c.Param("state"))
	if err != nil {
		a.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown set"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *Service) fullState(c *gin.Context) {
	state, err := a.engine.FullState()
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (a *Service) toggleState(c *gin.Context) {
	ok, err := a.engine.SetState(c.Param("set"), c.Param("state"), models.Toggle())
	if err != nil {
		a.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown set or state"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *Service) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sets.ErrInvalidLabel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, sets.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sets.ErrNotEmpty):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		a.logger.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
