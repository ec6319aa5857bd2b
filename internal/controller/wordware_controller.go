package controller

import (
	"bufio"
	"errors"

	"wordware-roast-be/internal/dto"
	"wordware-roast-be/internal/pkg/logger"
	"wordware-roast-be/internal/pkg/serverutils"
	"wordware-roast-be/internal/service"
	internalWS "wordware-roast-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const alreadyStartedMessage = "Wordware already started"

type IWordwareController interface {
	RegisterRoutes(r fiber.Router)
	Run(ctx *fiber.Ctx) error
	RunWs(ctx *fiber.Ctx) error
	Status(ctx *fiber.Ctx) error
}

type wordwareController struct {
	wordwareService service.IWordwareService
	logger          logger.ILogger
}

func NewWordwareController(wordwareService service.IWordwareService, log logger.ILogger) IWordwareController {
	return &wordwareController{
		wordwareService: wordwareService,
		logger:          log,
	}
}

func (c *wordwareController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/wordware")
	h.Post("", c.Run)
	h.Get("ws", c.RunWs)
	h.Get(":username/status", c.Status)
}

// Run streams the forwarded output text as text/plain. The body is written
// after this handler returns, so the run is driven from the stream writer.
func (c *wordwareController) Run(ctx *fiber.Ctx) error {
	var req dto.RunRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	run, err := c.wordwareService.Prepare(ctx.UserContext(), req)
	if err != nil {
		return c.mapError(ctx, err)
	}
	if run.Status == service.RunStatusAlreadyInProgress {
		return ctx.Status(fiber.StatusOK).JSON(dto.AlreadyStartedResponse{Error: alreadyStartedMessage})
	}

	ctx.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set("X-Accel-Buffering", "no")

	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		result := run.Stream(w)
		c.logResult(result)
	})
	return nil
}

// RunWs relays the same stream as websocket text frames. The request is read
// from the query string: ?username=alice&full=true
func (c *wordwareController) RunWs(ctx *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}

	req := dto.RunRequest{
		Username: ctx.Query("username"),
		Full:     ctx.QueryBool("full", false),
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	// Prepare runs before the upgrade so failures keep their HTTP status.
	run, err := c.wordwareService.Prepare(ctx.UserContext(), req)
	if err != nil {
		return c.mapError(ctx, err)
	}

	upgrade := websocket.New(func(conn *websocket.Conn) {
		if run.Status == service.RunStatusAlreadyInProgress {
			client := internalWS.NewClient(conn)
			_ = client.WriteJSON(dto.AlreadyStartedResponse{Error: alreadyStartedMessage})
			_ = client.Close()
			return
		}
		defer run.Close()

		result := internalWS.ServeRun(conn, run)
		c.logResult(result)
	})
	if err := upgrade(ctx); err != nil {
		// Handshake failed, the session callback never runs.
		run.Close()
		return err
	}
	return nil
}

func (c *wordwareController) Status(ctx *fiber.Ctx) error {
	res, err := c.wordwareService.GetStatus(ctx.UserContext(), ctx.Params("username"))
	if err != nil {
		return c.mapError(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get wordware status", res))
}

func (c *wordwareController) mapError(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		return fiber.NewError(fiber.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No reader"})
	default:
		return err
	}
}

func (c *wordwareController) logResult(result *service.RunResult) {
	details := map[string]interface{}{
		"run_id":      result.RunID,
		"outcome":     result.Outcome,
		"duration_ms": result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		details["error"] = result.Err.Error()
	}
	c.logger.Debug("WordwareController", "Run response closed", details)
}
