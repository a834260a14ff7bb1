package api

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/uveral/diario/internal/blob"
	"github.com/uveral/diario/internal/deadman"
	derrors "github.com/uveral/diario/internal/errors"
	"github.com/uveral/diario/internal/journal"
)

// listEntries handles GET /api/entries.
func (s *Server) listEntries(c *fiber.Ctx) error {
	entries, err := s.deps.Journal.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return c.JSON(fiber.Map{"entries": out})
}

// createEntry handles POST /api/entries.
func (s *Server) createEntry(c *fiber.Ctx) error {
	var req CreateEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	in := journal.NewEntry{Content: req.Content, AudioDurationSec: req.AudioDurationSec}
	if req.AudioKey != nil {
		in.AudioKey = *req.AudioKey
	}

	e, err := s.deps.Journal.Create(c.UserContext(), in)
	if err != nil {
		if errors.Is(err, derrors.ErrInvalidInput) {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_entry", "Bad Request", err.Error())
		}
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"entry": toEntryResponse(e)})
}

// uploadAudio handles POST /api/audio.
func (s *Server) uploadAudio(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_file", "Bad Request",
			"Multipart field \"file\" is required")
	}

	contentType := fh.Header.Get(fiber.HeaderContentType)
	if contentType == "" {
		contentType = "audio/webm"
	}
	name := fh.Filename
	if name == "" {
		name = "recording"
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	key := blob.NewAudioKey(time.Now(), contentType)
	if _, err := s.deps.Audio.Put(c.UserContext(), key, f, blob.Meta{
		ContentType:  contentType,
		OriginalName: name,
	}); err != nil {
		return err
	}

	s.logger.Info().Str("key", key).Int64("size", fh.Size).Msg("audio uploaded")
	return c.JSON(UploadResponse{Key: key, URL: audioURL(key)})
}

// getAudio handles GET /api/audio/*. The key may arrive path-escaped.
func (s *Server) getAudio(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_key", "Bad Request", "Malformed audio key")
	}

	obj, err := s.deps.Audio.Get(c.UserContext(), key)
	if err != nil {
		switch {
		case errors.Is(err, derrors.ErrNotFound):
			return problemResponse(c, fiber.StatusNotFound,
				"audio_not_found", "Not Found", "Audio not found")
		case errors.Is(err, derrors.ErrInvalidInput):
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_key", "Bad Request", err.Error())
		}
		return err
	}

	etag := strconv.Quote(obj.Meta.ETag)
	c.Set(fiber.HeaderETag, etag)
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	if c.Get(fiber.HeaderIfNoneMatch) == etag {
		obj.Close()
		return c.SendStatus(fiber.StatusNotModified)
	}

	c.Set(fiber.HeaderContentType, obj.Meta.ContentType)
	size := int(obj.Meta.Size)
	if size <= 0 {
		size = -1
	}
	return c.SendStream(obj, size)
}

// getDeadman handles GET /api/deadman.
func (s *Server) getDeadman(c *fiber.Ctx) error {
	report, err := s.deps.Deadman.Status(c.UserContext())
	if err != nil {
		return err
	}
	resp := DeadmanResponse{
		State:          report.Status.State,
		RemainingHours: report.Status.RemainingHours,
		Settings:       toDeadmanSettings(report.Settings),
	}
	if s.deps.Runner != nil {
		resp.Mode = s.deps.Runner.Mode()
	}
	return c.JSON(resp)
}

// updateDeadman handles PUT /api/deadman.
func (s *Server) updateDeadman(c *fiber.Ctx) error {
	var req UpdateDeadmanRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	if _, err := s.deps.Deadman.UpdateSettings(c.UserContext(), deadman.SettingsUpdate{
		OwnerEmail:   req.OwnerEmail,
		NotifyEmails: req.NotifyEmails,
		CheckInHours: req.CheckInHours,
		WarningHours: req.WarningHours,
	}); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

// checkIn handles POST /api/deadman/check-in.
func (s *Server) checkIn(c *fiber.Ctx) error {
	at, err := s.deps.Deadman.CheckIn(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(CheckInResponse{OK: true, LastCheckInTs: millis(at)})
}

// runDeadman handles POST /api/cron/deadman.
func (s *Server) runDeadman(c *fiber.Ctx) error {
	if s.deps.Runner == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"notifier_unavailable", "Service Unavailable",
			"No notifier is configured")
	}

	out, err := s.deps.Runner.Run(c.UserContext())
	if cfgErr, ok := derrors.AsConfigError(err); ok {
		return c.JSON(RunResponse{
			OK:     false,
			Mode:   s.deps.Runner.Mode(),
			Stage:  out.Stage,
			Error:  cfgErr.Reason,
			Detail: cfgErr.Detail,
		})
	}
	if err != nil {
		return err
	}

	return c.JSON(RunResponse{
		OK:         true,
		Mode:       s.deps.Runner.Mode(),
		State:      out.State,
		Stage:      out.Stage,
		Recipients: out.Recipients,
	})
}
