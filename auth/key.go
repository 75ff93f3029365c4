package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var ErrMixedMethods = errors.New("signing methods of different key types")

func keyType(method string) string {
	switch {
	case strings.HasPrefix(method, "RS"), strings.HasPrefix(method, "PS"):
		return "rsa"
	case strings.HasPrefix(method, "ES"):
		return "ecdsa"
	case strings.HasPrefix(method, "HS"):
		return "hmac"
	default:
		return ""
	}
}

// LoadKeyfunc reads the verification key from a file: a PEM encoded
// public key for RSA and ECDSA methods, the secret for HMAC methods.
// All methods must use the same key type.
func LoadKeyfunc(path string, methods []string) (jwt.Keyfunc, error) {
	if len(methods) == 0 {
		return nil, errors.New("no signing methods")
	}

	typ := keyType(methods[0])
	for _, m := range methods {
		if t := keyType(m); t == "" {
			return nil, fmt.Errorf("unsupported signing method: %s", m)
		} else if t != typ {
			return nil, fmt.Errorf("%w: %v", ErrMixedMethods, methods)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var key any
	switch typ {
	case "rsa":
		key, err = jwt.ParseRSAPublicKeyFromPEM(data)
	case "ecdsa":
		key, err = jwt.ParseECPublicKeyFromPEM(data)
	default:
		key = bytes.TrimSpace(data)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}

	return func(*jwt.Token) (any, error) { return key, nil }, nil
}
