package api_admin

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/ottermq/otterlane/internal/core/models"
)

// Credentials is the single management account.
type Credentials struct {
	Username string
	Password string
	Secret   string
	TTL      time.Duration
}

// Login godoc
// @Summary Authenticate and receive a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param credentials body models.LoginRequest true "Username and password"
// @Success 200 {object} models.LoginResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /login [post]
func Login(c *fiber.Ctx, creds Credentials) error {
	var request models.LoginRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: err.Error()})
	}
	if !secureCompare(request.Username, creds.Username) || !secureCompare(request.Password, creds.Password) {
		log.Warn().Str("user", request.Username).Str("ip", c.IP()).Msg("Rejected management login")
		return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{Error: "invalid credentials"})
	}
	if creds.Secret == "" {
		return c.Status(fiber.StatusOK).JSON(models.LoginResponse{})
	}

	expiresAt := time.Now().Add(creds.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   request.Username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    "otterlane",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(creds.Secret))
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign token")
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{Error: "failed to issue token"})
	}
	return c.Status(fiber.StatusOK).JSON(models.LoginResponse{Token: token, ExpiresAt: expiresAt.Unix()})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
