package http

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/riskgrid/internal/core/usecases"
)

// ETagMiddleware answers 304 when If-None-Match matches the response ETag.
// Handlers serving grid snapshots set the ETag themselves; other GET
// responses get a weak ETag hashed from the body.
func ETagMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}

		if c.Method() != fiber.MethodGet || c.Response().StatusCode() != fiber.StatusOK {
			return nil
		}

		etag := string(c.Response().Header.Peek(fiber.HeaderETag))
		if etag == "" {
			body := c.Response().Body()
			if len(body) == 0 {
				return nil
			}
			etag = weakETag(body)
			c.Set(fiber.HeaderETag, etag)
		}

		if c.Get(fiber.HeaderIfNoneMatch) == etag {
			c.Status(fiber.StatusNotModified)
			c.Response().ResetBody()
		}
		return nil
	}
}

// setSnapshotETag tags a response derived from snap without hashing the body.
func setSnapshotETag(c *fiber.Ctx, snap *usecases.Snapshot, variant string) {
	c.Set(fiber.HeaderETag, weakETag([]byte(
		snap.Key+"|"+snap.Version+"|"+strconv.FormatInt(snap.BuiltAt.UnixNano(), 10)+"|"+variant,
	)))
}

func weakETag(data []byte) string {
	h := sha256.Sum256(data)
	return `W/"` + hex.EncodeToString(h[:8]) + `"`
}
