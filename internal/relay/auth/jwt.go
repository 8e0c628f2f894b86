// Package auth issues and verifies the HS256 tokens that authenticate
// devices on the relay's linking endpoints.
package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/devlink/internal/common"
)

// Claims carries the registered claims plus the device identity.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID int64  `json:"deviceId"`
	Number   string `json:"number"`
}

func GenerateToken(deviceID int64, number string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(deviceID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		DeviceID: deviceID,
		Number:   number,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetDeviceFromToken verifies the signature and returns the device identity.
func GetDeviceFromToken(tokenString string, secretKey []byte) (int64, string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return 0, "", err
	}

	if !token.Valid {
		return 0, "", common.ErrInvalidToken
	}

	return claims.DeviceID, claims.Number, nil
}
