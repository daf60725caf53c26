// Command admintoken prints an operator JWT for the /admin endpoints.
//
//	go run ./cmd/admintoken -sub alice -ttl 1h
//
// The signing secret is read from ADMIN_JWT_SECRET (a .env file is honoured).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/droplite/service/internal/middleware"
)

func main() {
	sub := flag.String("sub", "operator", "token subject")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		log.Fatal("ADMIN_JWT_SECRET is not set")
	}

	now := time.Now()
	token, err := middleware.NewOperatorToken(secret, *sub, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		Issuer:    "droplite",
	})
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
