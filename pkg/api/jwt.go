package api

import (
	"context"
	"net/url"
	"os"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

// CustomClaims contains the custom data we want from the token
type CustomClaims struct {
	Scope string `json:"scope"`
	Role  string `json:"https://schoolrun.app/role"`
}

// Validate does nothing here, but we need it to satisfy the
// validator.CustomClaims interface
func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

const principalLocalsKey = "principal"

// EnsureValidToken is a middleware that checks the validity of the JWT and
// stores the resulting principal on the request context
func EnsureValidToken() fiber.Handler {
	issuerURL, err := url.Parse("https://" + os.Getenv("AUTH0_DOMAIN") + "/")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse the issuer url")
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{os.Getenv("AUTH0_AUDIENCE")},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &CustomClaims{}
			},
		),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		log.Fatal().Msg("Failed to set up the jwt validator")
	}

	return func(c *fiber.Ctx) (err error) {
		authHeader := c.Get("Authorization")

		if authHeader == "" {
			c.SendStatus(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"error": "Authorization header is required",
			})
		}

		jwtToken := authHeader
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			jwtToken = authHeader[7:]
		}

		claimsI, jwtErr := jwtValidator.ValidateToken(context.Background(), jwtToken)

		if jwtErr != nil {
			c.SendStatus(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"error": "Invalid auth token",
			})
		}

		claims := claimsI.(*validator.ValidatedClaims)
		customClaims := claims.CustomClaims.(*CustomClaims)

		role := sbdf.Role(customClaims.Role)
		if role != sbdf.RoleParent && role != sbdf.RoleDriver && role != sbdf.RoleAdmin {
			role = sbdf.RoleParent
		}

		c.Locals(principalLocalsKey, sbdf.Principal{
			UserIdentifier: claims.RegisteredClaims.Subject,
			Role:           role,
		})

		return c.Next()
	}
}

// RequestPrincipal returns the principal stored by EnsureValidToken
func RequestPrincipal(c *fiber.Ctx) sbdf.Principal {
	principal, _ := c.Locals(principalLocalsKey).(sbdf.Principal)

	return principal
}
