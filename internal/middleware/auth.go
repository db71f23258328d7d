package middleware

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/wellis321/cv-app-sub000/pkg/auth"
)

// Auth verifies JWT access tokens and stores the requester's identity in
// Fiber locals (user_id, user_email, user_role, org_id).
func Auth(jwtAuth *auth.JWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip auth if JWT secret is not configured (development mode ONLY)
		if jwtAuth == nil {
			environment := os.Getenv("ENVIRONMENT")
			if environment == "production" {
				log.Fatal("❌ CRITICAL SECURITY ERROR: JWT auth not configured in production environment. Authentication is required.")
			}

			c.Locals("user_id", "dev-user")
			c.Locals("user_email", "dev@localhost")
			c.Locals("user_role", "user")
			c.Locals("org_id", "")
			return c.Next()
		}

		token, err := auth.ExtractToken(c.Get("Authorization"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_email", user.Email)
		c.Locals("user_role", user.Role)
		c.Locals("org_id", user.OrgID)

		return c.Next()
	}
}

// RequireOrgAdmin restricts a route to organisation administrators.
func RequireOrgAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("user_role").(string)
		if role != "org_admin" && role != "superadmin" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Organisation administrator access required",
			})
		}
		return c.Next()
	}
}
