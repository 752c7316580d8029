package routes

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/directory"
	"github.com/schoolrun/schoolrun/pkg/realtime/bustracker"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

// TrackingRouter exposes the cold-start queries. They read the same journey
// state the socket events are derived from, so periodic polling and push
// delivery can never disagree.
func TrackingRouter(router fiber.Router, tracker *bustracker.Tracker, lookup directory.Lookup) {
	router.Get("/bus/:identifier", getBusTracking(tracker, lookup))
	router.Get("/child/:identifier", getChildBusTracking(tracker, lookup))
}

func getBusTracking(tracker *bustracker.Tracker, lookup directory.Lookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		busIdentifier := c.Params("identifier")

		principal, _ := c.Locals("principal").(sbdf.Principal)

		allowed, err := lookup.CanWatchRoom(context.Background(), principal, sbdf.BusRoom(busIdentifier))
		if err != nil {
			log.Error().Err(err).Str("bus", busIdentifier).Msg("Authorization lookup failed")
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		if !allowed {
			c.SendStatus(fiber.StatusForbidden)
			return c.JSON(fiber.Map{
				"error": "You are not permitted to view this bus",
			})
		}

		return respondWithSnapshot(c, tracker, principal, busIdentifier)
	}
}

func getChildBusTracking(tracker *bustracker.Tracker, lookup directory.Lookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		childIdentifier := c.Params("identifier")

		principal, _ := c.Locals("principal").(sbdf.Principal)

		allowed, err := lookup.CanWatchRoom(context.Background(), principal, sbdf.ChildRoom(childIdentifier))
		if err != nil {
			log.Error().Err(err).Str("child", childIdentifier).Msg("Authorization lookup failed")
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		if !allowed {
			c.SendStatus(fiber.StatusForbidden)
			return c.JSON(fiber.Map{
				"error": "You are not permitted to view this child",
			})
		}

		busIdentifier, err := lookup.BusForChild(context.Background(), childIdentifier)
		if err != nil {
			c.SendStatus(fiber.StatusNotFound)
			return c.JSON(fiber.Map{
				"error": "No bus assigned to this child",
			})
		}

		return respondWithSnapshot(c, tracker, principal, busIdentifier)
	}
}

func respondWithSnapshot(c *fiber.Ctx, tracker *bustracker.Tracker, principal sbdf.Principal, busIdentifier string) error {
	snapshot, err := tracker.Snapshot(busIdentifier)

	var unknownBus *bustracker.UnknownBusError
	if errors.As(err, &unknownBus) {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"tracking": false,
			"error":    "Bus is not currently tracking",
		})
	} else if err != nil {
		log.Error().Err(err).Str("bus", busIdentifier).Msg("Failed to query bus snapshot")
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	groups := []string{"basic"}
	if principal.Role == sbdf.RoleAdmin {
		groups = append(groups, "detailed")
	}

	snapshotReduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: groups,
	}, snapshot)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Sorry an internal server error occurred",
		})
	}

	return c.JSON(fiber.Map{
		"tracking": true,
		"snapshot": snapshotReduced,
	})
}
